package conversation

import (
	"strings"
	"unicode"
)

// Supported reply languages. Detection falls back to English.
const (
	LangEN = "en"
	LangES = "es"
	LangPT = "pt"
	LangRU = "ru"
	LangHE = "he"
)

// Short messages ("ok", "да", "si") carry too little signal to justify
// flipping a session's language, so below this length the previous session
// language wins unless the script itself is decisive.
const languageInertiaThreshold = 12

var spanishMarkers = map[string]struct{}{
	"hola": {}, "buenas": {}, "buenos": {}, "gracias": {}, "quiero": {},
	"necesito": {}, "cita": {}, "mañana": {}, "cuánto": {}, "cuanto": {},
	"precio": {}, "por": {}, "para": {}, "usted": {}, "doctora": {},
	"días": {}, "semana": {}, "hoy": {}, "puedo": {}, "tengo": {},
	"dónde": {}, "cómo": {}, "está": {}, "sí": {},
}

var portugueseMarkers = map[string]struct{}{
	"olá": {}, "oi": {}, "obrigado": {}, "obrigada": {}, "quero": {},
	"preciso": {}, "consulta": {}, "amanhã": {}, "quanto": {}, "preço": {},
	"você": {}, "vocês": {}, "não": {}, "sim": {}, "marcar": {},
	"semana": {}, "hoje": {}, "posso": {}, "tenho": {}, "onde": {},
	"bom": {}, "dia": {}, "tarde": {},
}

var englishMarkers = map[string]struct{}{
	"the": {}, "and": {}, "you": {}, "want": {}, "need": {}, "please": {},
	"appointment": {}, "tomorrow": {}, "today": {}, "thanks": {}, "hello": {},
	"would": {}, "could": {}, "what": {}, "when": {}, "how": {}, "much": {},
	"book": {}, "time": {}, "with": {},
}

// DetectLanguage classifies a message by script first, then by stopword
// overlap for the Latin-script languages. Ties and unknowns yield English.
func DetectLanguage(text string) string {
	if lang, decisive := scriptLanguage(text); decisive {
		return lang
	}

	var es, pt, en int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?¡¿;:()\"'")
		if word == "" {
			continue
		}
		if _, ok := spanishMarkers[word]; ok {
			es++
		}
		if _, ok := portugueseMarkers[word]; ok {
			pt++
		}
		if _, ok := englishMarkers[word]; ok {
			en++
		}
	}

	// Orthography that only one of the pair uses.
	if strings.ContainsAny(text, "ãõç") {
		pt += 2
	}
	if strings.ContainsAny(text, "¿¡ñ") {
		es += 2
	}

	switch {
	case es > pt && es > en:
		return LangES
	case pt > es && pt > en:
		return LangPT
	}
	return LangEN
}

// DetectLanguageWithInertia applies the session's language inertia rule:
// short messages inherit the previous language unless the script is
// decisive or the stopword evidence is strong.
func DetectLanguageWithInertia(text, previous string) string {
	detected := DetectLanguage(text)
	if previous == "" {
		return detected
	}
	if lang, decisive := scriptLanguage(text); decisive {
		return lang
	}
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < languageInertiaThreshold {
		return previous
	}
	return detected
}

// scriptLanguage returns a language when the character script alone decides
// it. A single Cyrillic or Hebrew rune is a strong indicator regardless of
// message length.
func scriptLanguage(text string) (string, bool) {
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return LangRU, true
		}
		if unicode.Is(unicode.Hebrew, r) {
			return LangHE, true
		}
	}
	return "", false
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 2 {
		lang = lang[:2]
	}
	switch lang {
	case LangEN, LangES, LangPT, LangRU, LangHE:
		return lang
	}
	return LangEN
}
