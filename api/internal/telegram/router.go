package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"answer-ocr/api/internal/ocr"
	"answer-ocr/api/internal/store"
	"answer-ocr/api/internal/util"
)

// Bot is the subset of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Recognizer interface {
	Recognize(ctx context.Context, image []byte, hint string) ocr.Result
	Providers() map[string]string
}

// AnswerStore persists results; FindByHash serves repeated photos.
type AnswerStore interface {
	Save(ctx context.Context, chatID int64, imageHash string, res ocr.Result) (int64, error)
	FindByHash(ctx context.Context, imageHash string, maxAge time.Duration) (*store.AnswerRow, error)
}

type Router struct {
	Bot        Bot
	Recognizer Recognizer
	Answers    AnswerStore   // optional
	CacheTTL   time.Duration // 0 disables the same-photo cache
	Debounce   time.Duration // 0 uses the default album debounce
	HTTP       *http.Client  // file downloads

	chats   sync.Map // chatID -> *chatState
	batches sync.Map // key -> *photoBatch
	log     *logrus.Entry
}

func NewRouter(bot Bot, rec Recognizer, answers AnswerStore) *Router {
	return &Router{
		Bot:        bot,
		Recognizer: rec,
		Answers:    answers,
		CacheTTL:   24 * time.Hour,
		Debounce:   debounce,
		HTTP:       &http.Client{Timeout: 60 * time.Second},
		log:        logrus.WithField("component", "telegram"),
	}
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.IsCommand() {
		r.HandleCommand(*msg)
		return
	}
	if len(msg.Photo) > 0 {
		r.acceptPhoto(*msg, msg.Photo[len(msg.Photo)-1].FileID)
		return
	}
	// фото, отправленное файлом
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		r.acceptPhoto(*msg, msg.Document.FileID)
		return
	}
	if msg.Text != "" {
		r.send(msg.Chat.ID, "Пришлите фото ответа. Контекст задания можно задать командой /context.")
	}
}

func (r *Router) HandleCommand(msg tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start":
		r.send(cid, "Пришлите фото рукописного ответа, и я верну распознанный текст.\n"+
			"Несколько фото одной страницы склею в одно.\n"+
			"Команды: /context <о чём задание>, /health")
	case "health":
		r.send(cid, healthText(r.Recognizer.Providers()))
	case "context":
		hint := strings.TrimSpace(msg.CommandArguments())
		r.setHint(cid, hint)
		if hint == "" {
			r.send(cid, "Контекст задания сброшен.")
			return
		}
		r.send(cid, "✅ Контекст задания: "+hint)
	default:
		r.send(cid, "Неизвестная команда")
	}
}

// recognizeAndReply runs one page through the cache, the recognizer and the store.
func (r *Router) recognizeAndReply(ctx context.Context, chatID int64, img []byte, useCache bool) {
	hint := r.hint(chatID)
	hash := answerKey(img, hint)

	if useCache && r.Answers != nil && r.CacheTTL > 0 {
		row, err := r.Answers.FindByHash(ctx, hash, r.CacheTTL)
		switch {
		case err == nil:
			r.reply(chatID, row.Result, true)
			return
		case !errors.Is(err, store.ErrNotFound):
			r.log.WithError(err).Warn("answer cache lookup failed")
		}
	}

	res := r.Recognizer.Recognize(ctx, img, hint)
	if r.Answers != nil {
		if _, err := r.Answers.Save(ctx, chatID, hash, res); err != nil {
			r.log.WithError(err).WithField("request_id", res.RequestID).Warn("save answer failed")
		}
	}
	r.reply(chatID, res, false)
}

// answerKey identifies a cached answer: the same page under another /context
// hint is a different request.
func answerKey(img []byte, hint string) string {
	if hint == "" {
		return util.SHA256Hex(img)
	}
	key := make([]byte, 0, len(img)+1+len(hint))
	key = append(append(append(key, img...), 0), hint...)
	return util.SHA256Hex(key)
}

func (r *Router) reply(chatID int64, res ocr.Result, cached bool) {
	msg := tgbotapi.NewMessage(chatID, formatResult(res, cached))
	msg.ReplyMarkup = makeRetryKeyboard()
	if _, err := r.Bot.Send(msg); err != nil {
		r.log.WithError(err).Warn("send result failed")
	}
}

func (r *Router) send(chatID int64, text string) {
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.WithError(err).Warn("send failed")
	}
}

func (r *Router) SendError(chatID int64, err error) {
	r.log.WithError(err).WithField("chat_id", chatID).Warn("photo handling failed")
	r.send(chatID, fmt.Sprintf("Не удалось обработать фото: %v", err))
}

func healthText(providers map[string]string) string {
	roles := make([]string, 0, len(providers))
	for role := range providers {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var b strings.Builder
	b.WriteString("✅ OK")
	for _, role := range roles {
		fmt.Fprintf(&b, "\n%s: %s", role, providers[role])
	}
	return b.String()
}
