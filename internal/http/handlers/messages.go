package handlers

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"qwenstudio/internal/imagegen"
)

type translation struct {
	en, zh, id string
}

// translations lists user-facing text with its zh and id forms. Text without
// an entry is shown in English.
var translations = []translation{
	{"API key is invalid or missing", "API 密钥无效或缺失", "Kunci API tidak valid atau tidak ada"},
	{"Check your .env file and ensure DASHSCOPE_API_KEY is set correctly", "请检查 .env 文件并确认 DASHSCOPE_API_KEY 设置正确", "Periksa file .env dan pastikan DASHSCOPE_API_KEY sudah benar"},
	{"Authentication failed", "身份验证失败", "Autentikasi gagal"},
	{"Check your API key configuration", "请检查 API 密钥配置", "Periksa konfigurasi kunci API Anda"},
	{"Too many requests - rate limit exceeded", "请求过多，已超出速率限制", "Terlalu banyak permintaan, batas laju terlampaui"},
	{"Too many requests", "请求过多", "Terlalu banyak permintaan"},
	{"Wait a few minutes before trying again", "请等待几分钟后再试", "Tunggu beberapa menit sebelum mencoba lagi"},
	{"API quota exceeded - no more generations available", "API 配额已用尽，无法继续生成", "Kuota API habis, tidak ada generasi tersisa"},
	{"Check your Alibaba Cloud account to add more quota", "请在阿里云账户中增加配额", "Periksa akun Alibaba Cloud Anda untuk menambah kuota"},
	{"Prompt blocked by content moderation", "提示词被内容审核拦截", "Prompt diblokir oleh moderasi konten"},
	{"Try rephrasing your prompt. Avoid sensitive or inappropriate content.", "请换一种说法，避免敏感或不当内容。", "Coba ubah kalimat prompt Anda. Hindari konten sensitif atau tidak pantas."},
	{"Invalid request format", "请求格式无效", "Format permintaan tidak valid"},
	{"This is likely a bug - please report it", "这可能是一个缺陷，请反馈给我们", "Ini kemungkinan bug, mohon laporkan"},
	{"Task not found - it may have expired", "未找到任务，可能已过期", "Tugas tidak ditemukan, mungkin sudah kedaluwarsa"},
	{"Try generating the image again", "请重新生成图片", "Coba buat gambar lagi"},
	{"Image generation failed on the server", "服务器端图片生成失败", "Pembuatan gambar gagal di server"},
	{"Try a different prompt or check the DashScope console for details", "请尝试其他提示词，或在 DashScope 控制台查看详情", "Coba prompt lain atau periksa konsol DashScope untuk detailnya"},
	{"Server error - DashScope API is having issues", "服务器错误，DashScope API 出现问题", "Kesalahan server, API DashScope sedang bermasalah"},
	{"Try again in a few minutes", "请几分钟后再试", "Coba lagi dalam beberapa menit"},
	{"Check your internet connection and try again", "请检查网络连接后重试", "Periksa koneksi internet Anda lalu coba lagi"},
	{"Request timed out", "请求超时", "Permintaan habis waktu"},
	{"Network error - could not reach the API", "网络错误，无法连接 API", "Kesalahan jaringan, API tidak dapat dijangkau"},
	{"Check your internet connection", "请检查网络连接", "Periksa koneksi internet Anda"},
	{"An unexpected error occurred", "发生意外错误", "Terjadi kesalahan tak terduga"},
	{"Try again in a moment", "请稍后再试", "Coba lagi sebentar lagi"},
	{"Try again or contact support", "请重试或联系支持人员", "Coba lagi atau hubungi dukungan"},
	{"Unknown error", "未知错误", "Kesalahan tidak diketahui"},
	{"Image generation finished without an image", "生成已完成，但没有返回图片", "Pembuatan selesai tanpa gambar"},
	{"Pick one of the supported image sizes", "请选择支持的图片尺寸", "Pilih salah satu ukuran gambar yang didukung"},
	{"Prompt is required", "请输入提示词", "Prompt wajib diisi"},
	{"Generation not found", "未找到生成任务", "Generasi tidak ditemukan"},
	{"Generation is still in progress", "生成仍在进行中", "Generasi masih berlangsung"},
	{"Unsupported image size", "不支持的图片尺寸", "Ukuran gambar tidak didukung"},
	{"Invalid request body", "请求体无效", "Isi permintaan tidak valid"},
	{"Creation not found", "未找到作品", "Kreasi tidak ditemukan"},
}

var knownMessages = indexTranslations()

func indexTranslations() map[string]struct{} {
	out := make(map[string]struct{}, len(translations))
	for _, t := range translations {
		out[t.en] = struct{}{}
	}
	return out
}

var messageTags = map[string]language.Tag{
	"en": language.English,
	"zh": language.Chinese,
	"id": language.Indonesian,
}

var messageCatalog = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, t := range translations {
		_ = b.SetString(language.English, t.en, t.en)
		_ = b.SetString(language.Chinese, t.en, t.zh)
		_ = b.SetString(language.Indonesian, t.en, t.id)
	}
	return b
}

// Translator renders catalog messages for one locale.
type Translator struct {
	printer *message.Printer
}

// NewTranslator returns a translator for locale, falling back to English.
func NewTranslator(locale string) Translator {
	tag, ok := messageTags[locale]
	if !ok {
		tag = language.English
	}
	return Translator{printer: message.NewPrinter(tag, message.Catalog(messageCatalog))}
}

// T translates text when the catalog knows it and returns it unchanged otherwise.
func (t Translator) T(text string) string {
	if _, ok := knownMessages[text]; !ok {
		return text
	}
	return t.printer.Sprintf(text)
}

// Error returns a localized copy of parsed. Technical details stay in English.
func (t Translator) Error(parsed *imagegen.ParsedError) *imagegen.ParsedError {
	if parsed == nil {
		return nil
	}
	out := *parsed
	out.UserMessage = t.T(parsed.UserMessage)
	out.Suggestion = t.T(parsed.Suggestion)
	return &out
}
