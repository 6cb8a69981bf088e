package notify

import "strings"

const maxPreview = 100

// Preview returns the notification body for a message.
func Preview(rec MessageRecord) string {
	if kind := value(rec.MediaType); kind != "" || value(rec.MediaURL) != "" {
		switch {
		case strings.HasPrefix(kind, "image"):
			return "📷 Foto"
		case strings.HasPrefix(kind, "video"):
			return "🎥 Vídeo"
		case strings.HasPrefix(kind, "audio"):
			return "🎤 Áudio"
		default:
			return "📎 Arquivo"
		}
	}
	return truncate(value(rec.Content), maxPreview)
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
