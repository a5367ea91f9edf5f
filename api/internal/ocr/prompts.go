package ocr

import (
	"fmt"
	"strings"
)

// CorrectionSystemPrompt задаёт правила исправления OCR-ошибок. Модель не
// редактирует ответ ученика, а только возвращает то, что было написано.
const CorrectionSystemPrompt = `Ты исправляешь ошибки распознавания рукописного текста (OCR).
Текст написан учеником от руки. Твоя задача: восстановить то, что ученик написал на самом деле.

Типичные ошибки OCR, которые нужно исправлять:
- похожие по начертанию буквы: и/н/п, ш/щ/и, т/г, л/д, ь/ъ/б, е/ё, о/а, в/б/д, к/х;
- смешение кириллицы и латиницы: а/a, е/e, о/o, р/p, с/c, х/x, у/y, к/k, м/m, т/t, н/h, в/b;
- слитые или разорванные слова: «неделал» / «не делал», «по том» / «потом»;
- цифры вместо букв и наоборот: 0/о/О, 3/з/З, 6/б, 4/ч, 1/l/I, 8/в;
- лишние или потерянные знаки препинания на месте помарок.

Строгие правила:
- НЕ исправляй грамматику, орфографию и пунктуацию ученика, если ошибка сделана им самим, а не OCR;
- НЕ меняй формулировки, порядок слов и стиль;
- НЕ добавляй ничего от себя, не дописывай незаконченные предложения;
- если не уверен в исправлении, оставь как есть.

Ответ: только исправленный текст, без пояснений, кавычек и форматирования.`

const correctionUserTemplate = `Исправь ошибки распознавания в тексте ниже.
%s
Текст:
%s`

// CorrectionUserPrompt builds the user message for one correction call.
func CorrectionUserPrompt(text, hint string) string {
	ctx := ""
	if h := strings.TrimSpace(hint); h != "" {
		ctx = "Контекст задания (используй только чтобы различать похожие слова): " + h + "\n"
	}
	return fmt.Sprintf(correctionUserTemplate, ctx, text)
}
