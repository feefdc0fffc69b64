package staging

import "github.com/yourusername/paper-press/internal/locale"

// Labels は画面に表示する文言です。
type Labels struct {
	File      string
	Size      string
	Remove    string
	Submit    string
	Uploading string
	Empty     string
}

var labelVariants = struct {
	file, size, remove, submit, uploading, empty locale.Variants
}{
	file:      locale.Variants{En: "File", ZhHK: "檔案", ZhCN: "文件"},
	size:      locale.Variants{En: "Size", ZhHK: "大小", ZhCN: "大小"},
	remove:    locale.Variants{En: "Remove", ZhHK: "移除", ZhCN: "移除"},
	submit:    locale.Variants{En: "Compress PDF", ZhHK: "壓縮 PDF", ZhCN: "压缩 PDF"},
	uploading: locale.Variants{En: "Uploading", ZhHK: "上載中", ZhCN: "上传中"},
	empty:     locale.Variants{En: "No files selected", ZhHK: "未選擇檔案", ZhCN: "未选择文件"},
}

// LabelsFor は指定言語の文言を返します。
func LabelsFor(l locale.Locale) Labels {
	return Labels{
		File:      locale.Pick(labelVariants.file, l),
		Size:      locale.Pick(labelVariants.size, l),
		Remove:    locale.Pick(labelVariants.remove, l),
		Submit:    locale.Pick(labelVariants.submit, l),
		Uploading: locale.Pick(labelVariants.uploading, l),
		Empty:     locale.Pick(labelVariants.empty, l),
	}
}
