package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "golang.org/x/image/webp"
)

const maxDownloadBytes = 20 << 20

func (r *Router) acceptPhoto(msg tgbotapi.Message, fileID string) {
	cid := msg.Chat.ID
	imgBytes, err := r.fetch(fileID)
	if err != nil {
		r.SendError(cid, err)
		return
	}

	key := fmt.Sprintf("chat:%d", cid)
	if msg.MediaGroupID != "" {
		key = "grp:" + msg.MediaGroupID
	}
	if _, first := r.addToBatch(cid, key, msg.MediaGroupID, fileID, imgBytes); first {
		r.send(cid, "Фото принято. Если ответ на нескольких фото, пришлите их подряд, я склею страницы.")
	}
}

// addToBatch appends a page to the open batch under key and restarts its
// debounce timer. A batch already taken by processBatch is never reused.
func (r *Router) addToBatch(chatID int64, key, mediaGroupID, fileID string, img []byte) (*photoBatch, bool) {
	wait := r.Debounce
	if wait <= 0 {
		wait = debounce
	}
	for {
		bi, _ := r.batches.LoadOrStore(key, &photoBatch{
			ChatID: chatID, Key: key, MediaGroupID: mediaGroupID, images: make([][]byte, 0, 4),
		})
		b := bi.(*photoBatch)

		b.mu.Lock()
		if b.closed {
			// takeBatch уже убрал его из map, берём свежий
			b.mu.Unlock()
			continue
		}
		b.images = append(b.images, img)
		b.fileIDs = append(b.fileIDs, fileID)
		first := len(b.images) == 1
		if b.timer != nil {
			b.timer.Stop()
		}
		b.timer = time.AfterFunc(wait, func() { r.processBatch(b) })
		b.mu.Unlock()
		return b, first
	}
}

// takeBatch closes b and detaches it from the batch map. It returns nothing
// if b was already taken.
func (r *Router) takeBatch(b *photoBatch) ([][]byte, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	r.batches.CompareAndDelete(b.Key, b)
	return b.images, b.fileIDs
}

func (r *Router) processBatch(b *photoBatch) {
	images, fileIDs := r.takeBatch(b)
	if len(images) == 0 {
		return
	}
	r.rememberFiles(b.ChatID, fileIDs)

	page, err := stitch(images)
	if err != nil {
		r.SendError(b.ChatID, err)
		return
	}
	r.recognizeAndReply(context.Background(), b.ChatID, page, true)
}

// refetchPage downloads the pages again and rebuilds the page sent to the recognizer.
func (r *Router) refetchPage(fileIDs []string) ([]byte, error) {
	images := make([][]byte, 0, len(fileIDs))
	for _, id := range fileIDs {
		b, err := r.fetch(id)
		if err != nil {
			return nil, err
		}
		images = append(images, b)
	}
	return stitch(images)
}

func stitch(images [][]byte) ([]byte, error) {
	if len(images) == 1 {
		return images[0], nil
	}
	merged, err := combineAsOne(images)
	if err != nil {
		return nil, fmt.Errorf("склейка: %w", err)
	}
	return merged, nil
}

// combineAsOne stacks the pages vertically on white, centred, and shrinks
// the result to at most maxPixels.
func combineAsOne(images [][]byte) ([]byte, error) {
	decoded := make([]image.Image, 0, len(images))
	maxW, sumH := 0, 0
	for i, b := range images {
		img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("страница %d: %w", i+1, err)
		}
		decoded = append(decoded, img)
		bounds := img.Bounds()
		maxW = max(maxW, bounds.Dx())
		sumH += bounds.Dy()
	}
	if maxW == 0 || sumH == 0 {
		return nil, fmt.Errorf("пустые изображения")
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxW, sumH))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	y := 0
	for _, img := range decoded {
		w, h := img.Bounds().Dx(), img.Bounds().Dy()
		x := (maxW - w) / 2
		draw.Draw(dst, image.Rect(x, y, x+w, y+h), img, img.Bounds().Min, draw.Over)
		y += h
	}

	final := image.Image(dst)
	if total := maxW * sumH; total > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(total))
		newW := max(1, int(float64(maxW)*scale))
		newH := max(1, int(float64(sumH)*scale))
		final = imaging.Resize(dst, newW, newH, imaging.Lanczos)
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, final, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (r *Router) fetch(fileID string) ([]byte, error) {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	return r.download(url)
}

func (r *Router) download(url string) ([]byte, error) {
	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}
