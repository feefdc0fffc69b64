package ingest

import "github.com/yourusername/paper-press/internal/locale"

const (
	codeUnsupportedType = "UNSUPPORTED_TYPE"
	codeFileTooLarge    = "FILE_TOO_LARGE"
	codeTooManyFiles    = "TOO_MANY_FILES"
	codeInvalidInput    = "INVALID_INPUT"
	codeStorageError    = "STORAGE_ERROR"
	codeCanceled        = "REQUEST_CANCELED"
	codeInternal        = "INTERNAL_ERROR"
	codeNotFound        = "NOT_FOUND"

	// msgNoFiles は INVALID_INPUT のうちファイルが1件も無い場合の文言キーです。
	msgNoFiles = "NO_FILES"
)

var messages = map[string]locale.Variants{
	codeUnsupportedType: {
		En:   "Only PDF files can be uploaded.",
		ZhHK: "只可上載 PDF 檔案。",
		ZhCN: "只能上传 PDF 文件。",
	},
	codeFileTooLarge: {
		En:   "The file exceeds the upload size limit.",
		ZhHK: "檔案超出上載大小限制。",
		ZhCN: "文件超出上传大小限制。",
	},
	codeTooManyFiles: {
		En:   "Too many files were selected.",
		ZhHK: "選擇的檔案數量過多。",
		ZhCN: "选择的文件数量过多。",
	},
	codeInvalidInput: {
		En:   "Please send PDF files as multipart/form-data.",
		ZhHK: "請以 multipart/form-data 傳送 PDF 檔案。",
		ZhCN: "请以 multipart/form-data 发送 PDF 文件。",
	},
	msgNoFiles: {
		En:   "No PDF file was uploaded.",
		ZhHK: "未有上載任何 PDF 檔案。",
		ZhCN: "未上传任何 PDF 文件。",
	},
	codeStorageError: {
		En:   "The uploaded file could not be saved.",
		ZhHK: "無法儲存上載的檔案。",
		ZhCN: "无法保存上传的文件。",
	},
	codeCanceled: {
		En:   "The request was canceled.",
		ZhHK: "請求已取消。",
		ZhCN: "请求已取消。",
	},
	codeInternal: {
		En:   "An internal server error occurred.",
		ZhHK: "伺服器發生內部錯誤。",
		ZhCN: "服务器发生内部错误。",
	},
	codeNotFound: {
		En:   "The upload was not found or has expired.",
		ZhHK: "找不到上載記錄或已過期。",
		ZhCN: "找不到上传记录或已过期。",
	},
}

func message(key string, l locale.Locale) string {
	return locale.Pick(messages[key], l)
}
