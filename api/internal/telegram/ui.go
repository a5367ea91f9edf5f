package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"answer-ocr/api/internal/ocr"
)

const (
	cbRetry     = "retry"
	maxTextRune = 3900
)

func makeRetryKeyboard() tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("🔄 Распознать заново", cbRetry)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

var userText = map[string]string{
	ocr.MsgNoText:         "Текст на фото не найден.",
	ocr.MsgUnreadable:     "Не удалось прочитать изображение.",
	ocr.MsgUnavailable:    "Распознавание сейчас недоступно.",
	ocr.WarnRetake:        "Проверьте качество фото: переснимите при хорошем освещении.",
	ocr.WarnTypeInstead:   "Пожалуйста, напишите ответ текстом.",
	ocr.WarnLowConfidence: "Уверенность низкая, проверьте распознанный текст.",
}

func translate(s string) string {
	if t, ok := userText[s]; ok {
		return t
	}
	return s
}

// formatResult renders a recognition result as a plain-text reply.
func formatResult(res ocr.Result, cached bool) string {
	var b strings.Builder
	if !res.Success {
		b.WriteString("⚠️ ")
		b.WriteString(translate(res.Error))
		if res.Warning != "" {
			b.WriteString("\n")
			b.WriteString(translate(res.Warning))
		}
		return b.String()
	}

	b.WriteString("📝 Распознанный ответ:\n\n")
	b.WriteString(truncate(res.Text, maxTextRune))
	b.WriteString("\n\n")
	if res.ConfidenceMeasured {
		fmt.Fprintf(&b, "Уверенность: %.0f%%", res.Confidence*100)
	} else {
		b.WriteString("Уверенность: не измерялась")
	}
	var notes []string
	if res.Corrected {
		notes = append(notes, "исправлено")
	}
	if cached {
		notes = append(notes, "из кэша")
	}
	if len(notes) > 0 {
		b.WriteString(" (" + strings.Join(notes, ", ") + ")")
	}
	if res.Warning != "" {
		b.WriteString("\n")
		b.WriteString(translate(res.Warning))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
