package i18n

// Bundle holds every user-facing notification string for one language.
// The chat core never hardcodes presentation text; callers inject the
// bundle for the language they serve.
type Bundle struct {
	DefaultSessionTitle string
	SessionsLoadFailed  string
	MessagesLoadFailed  string
	SessionCreateFailed string
	SessionDeleted      string
	SessionDeleteFailed string
	TitleGenFailed      string
	SendFailed          string
	LoginRequired       string
}

var bundles = map[string]Bundle{
	"tr": {
		DefaultSessionTitle: "Yeni Sohbet",
		SessionsLoadFailed:  "Oturumlar yüklenirken bir hata oluştu.",
		MessagesLoadFailed:  "Mesajlar yüklenirken bir hata oluştu.",
		SessionCreateFailed: "Yeni oturum oluşturulurken bir hata oluştu.",
		SessionDeleted:      "Oturum başarıyla silindi.",
		SessionDeleteFailed: "Oturum silinirken bir hata oluştu.",
		TitleGenFailed:      "Sohbet başlığı oluşturulurken bir hata oluştu.",
		SendFailed:          "Mesaj gönderilirken bir hata oluştu.",
		LoginRequired:       "Oturum oluşturmak için giriş yapmalısınız.",
	},
	"en": {
		DefaultSessionTitle: "New Chat",
		SessionsLoadFailed:  "Failed to load sessions.",
		MessagesLoadFailed:  "Failed to load messages.",
		SessionCreateFailed: "Failed to create a new session.",
		SessionDeleted:      "Session deleted.",
		SessionDeleteFailed: "Failed to delete session.",
		TitleGenFailed:      "Failed to generate a chat title.",
		SendFailed:          "Failed to send message.",
		LoginRequired:       "You must sign in to start a session.",
	},
}

// Lookup returns the bundle for a language tag, falling back to Turkish,
// the product default.
func Lookup(lang string) Bundle {
	if b, ok := bundles[lang]; ok {
		return b
	}
	return bundles["tr"]
}
