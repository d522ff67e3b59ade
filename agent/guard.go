package agent

import "strings"

// GuardConfig configures the answer guards that detect degenerate model
// behavior between tool rounds. Both detectors are phrase based and
// case-insensitive; empty phrase lists disable the corresponding guard.
type GuardConfig struct {
	// ModerationPhrases mark model self-moderation: the model refuses
	// ("I cannot discuss this topic") in the middle of a task instead of
	// answering. Treated as a transient fault, not an answer.
	ModerationPhrases []string
	// PromisePhrases mark a promised-but-unperformed action: the model
	// narrates an intent ("let me search for that now") instead of
	// emitting a function call.
	PromisePhrases []string

	// MaxModerationRetries bounds re-prompts after moderation or empty
	// output before the run fails.
	MaxModerationRetries int
	// MaxPromiseRetries bounds re-prompts after a promised action; once
	// exhausted the text is returned as-is rather than looping.
	MaxPromiseRetries int

	// ModerationNudge and PromiseNudge are the corrective follow-up texts
	// injected (transiently, never persisted) on detection.
	ModerationNudge string
	PromiseNudge    string
}

// DefaultGuardConfig returns the phrase lists and limits tuned for the
// production assistant. The phrases are Russian because that is the language
// the deployed model converses and misbehaves in.
func DefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		ModerationPhrases: []string{
			"не могу обсуждать эту тему",
			"я не могу обсуждать",
			"не могу помочь с этим",
			"давайте поговорим о чём-нибудь",
			"поговорим о чём-нибудь ещё",
			"я не могу отвечать на этот вопрос",
		},
		PromisePhrases: []string{
			"начну поиск", "начинаю поиск", "запускаю поиск", "приступаю к поиску",
			"сейчас поищу", "сейчас найду", "сейчас подберу", "сейчас подбираю",
			"начну подбор", "начинаю подбор",
			"подберу для вас", "поищу для вас", "найду для вас",
			"ищу подходящие", "ищу для вас", "ищу варианты",
			"давайте поищу", "давайте найду", "давайте подберу",
			"сейчас посмотрю", "сейчас проверю", "сейчас узнаю",
			"сейчас уточню", "сейчас загружу",
			"момент, ищу", "секунду, подбираю", "минуту, проверяю",
			"одну секунду", "один момент",
		},
		MaxModerationRetries: 3,
		MaxPromiseRetries:    2,
		ModerationNudge:      "Пожалуйста, продолжи помогать с запросом. Продолжи с того места, где мы остановились.",
		PromiseNudge: "СИСТЕМНАЯ ОШИБКА: ты описал намерение текстом, но не вызвал функцию. " +
			"Немедленно вызови нужную функцию с собранными параметрами вместо описания намерения.",
	}
}

// IsSelfModeration reports whether text is a canned refusal.
func (g *GuardConfig) IsSelfModeration(text string) bool {
	return matchesAny(text, g.ModerationPhrases)
}

// IsPromisedAction reports whether text narrates an action instead of
// performing it.
func (g *GuardConfig) IsPromisedAction(text string) bool {
	return matchesAny(text, g.PromisePhrases)
}

func matchesAny(text string, phrases []string) bool {
	if text == "" || len(phrases) == 0 {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	lower = strings.TrimSpace(strings.TrimLeft(lower, "#"))
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// DedupAnswer removes a restarted duplicate from a final answer. Some
// providers occasionally truncate on a corrupted rune and regenerate the
// whole text after it; the duplicate is detected by the first line
// reappearing later in the answer.
func DedupAnswer(text string) string {
	if len(text) < 100 {
		return text
	}

	firstNewline := strings.IndexByte(text, '\n')
	if firstNewline < 5 {
		return text
	}

	firstLine := strings.TrimSpace(text[:firstNewline])
	if len(firstLine) < 10 {
		return text
	}

	second := strings.Index(text[firstNewline+1:], firstLine)
	if second < 0 {
		return text
	}

	return strings.TrimRight(text[:firstNewline+1+second], "�\n \t")
}
