package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (r *Router) handleCallback(cb tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	cid := cb.Message.Chat.ID
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")) // ack

	switch cb.Data {
	case cbRetry:
		fileIDs := r.lastFiles(cid)
		if len(fileIDs) == 0 {
			r.send(cid, "Не нашёл предыдущее фото. Пришлите его ещё раз.")
			return
		}
		r.send(cid, "Распознаю заново…")
		img, err := r.refetchPage(fileIDs)
		if err != nil {
			r.SendError(cid, err)
			return
		}
		r.recognizeAndReply(context.Background(), cid, img, false)
	}
}
