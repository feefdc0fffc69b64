package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPick(t *testing.T) {
	v := Variants{En: "Remove", ZhHK: "移除", ZhCN: "移除"}
	assert.Equal(t, "Remove", Pick(v, En))
	assert.Equal(t, "移除", Pick(v, ZhHK))
	assert.Equal(t, "Remove", Pick(Variants{En: "Remove"}, ZhCN), "missing variants fall back to English")
	assert.Equal(t, "Remove", Pick(v, Locale("fr")))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		header string
		want   Locale
	}{
		{header: "", want: En},
		{header: "en-US,en;q=0.9", want: En},
		{header: "zh-HK,zh;q=0.8", want: ZhHK},
		{header: "zh-CN,zh;q=0.9,en;q=0.5", want: ZhCN},
		{header: "zh_hk", want: ZhHK},
		{header: "ZH-CN", want: ZhCN},
		{header: "ja-JP", want: En},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.header))
		})
	}
}
