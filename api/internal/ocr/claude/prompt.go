package claude

import "strings"

const basePrompt = `На фотографии рукописный ответ ученика. Перепиши текст ДОСЛОВНО, ровно так, как он написан.

Правила:
- НЕ исправляй грамматику, орфографию и пунктуацию, даже если видишь ошибки: они важны для проверки;
- НЕ добавляй ничего от себя, не дописывай и не пересказывай;
- сохраняй разбиение на строки и абзацы;
- если слово трудно разобрать, выбери наиболее вероятный вариант по смыслу предложения;
- зачёркнутое не переписывай;
- если текста на фото нет, верни пустой ответ.

Ответ: только распознанный текст, без комментариев и форматирования.`

// Prompt returns the transcription instruction, with the task context appended when known.
func Prompt(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return basePrompt
	}
	return basePrompt + "\n\nКонтекст задания (только для разбора неразборчивых слов): " + hint
}
