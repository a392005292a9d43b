package conversation

import (
	"fmt"
	"strings"
)

// Canned replies for the deterministic fast paths and failure fallbacks.
// Keyed by two-letter language code; pickTemplate falls back to English.

var greetingTemplates = map[string]string{
	LangEN: "Hi! 👋 Welcome to %s. I can help you book an appointment, check prices, or answer questions about our treatments. What can I do for you?",
	LangES: "¡Hola! 👋 Bienvenido/a a %s. Puedo ayudarte a agendar una cita, consultar precios o responder preguntas sobre nuestros tratamientos. ¿En qué te puedo ayudar?",
	LangPT: "Olá! 👋 Bem-vindo(a) à %s. Posso ajudar a marcar uma consulta, verificar preços ou responder dúvidas sobre nossos tratamentos. Como posso ajudar?",
	LangRU: "Здравствуйте! 👋 Добро пожаловать в %s. Могу записать вас на приём, подсказать цены или ответить на вопросы о наших процедурах. Чем могу помочь?",
	LangHE: "שלום! 👋 ברוכים הבאים ל-%s. אפשר לקבוע תור, לבדוק מחירים או לענות על שאלות לגבי הטיפולים שלנו. איך אפשר לעזור?",
}

var whichDayTemplates = map[string]string{
	LangEN: "Great! Which day works best for you?",
	LangES: "¡Perfecto! ¿Qué día te viene mejor?",
	LangPT: "Ótimo! Qual dia é melhor para você?",
	LangRU: "Отлично! Какой день вам удобен?",
	LangHE: "מעולה! איזה יום הכי נוח לך?",
}

var escalationHoldingTemplates = map[string]string{
	LangEN: "Of course — I'm looping in our team. A member of our staff will follow up with you right here shortly. 🙏",
	LangES: "Por supuesto — ya avisé a nuestro equipo. Una persona de nuestro personal te responderá por aquí en breve. 🙏",
	LangPT: "Claro — já avisei nossa equipe. Alguém da nossa equipe vai te responder por aqui em breve. 🙏",
	LangRU: "Конечно — я передал(а) ваш вопрос нашей команде. Сотрудник ответит вам здесь в ближайшее время. 🙏",
	LangHE: "בוודאי — העברתי את הפנייה לצוות שלנו. נציג יחזור אליך כאן בהקדם. 🙏",
}

var fallbackGenericTemplates = map[string]string{
	LangEN: "Sorry, something went wrong on our side. Please try again in a moment.",
	LangES: "Lo siento, algo falló de nuestro lado. Inténtalo de nuevo en un momento.",
	LangPT: "Desculpe, algo deu errado do nosso lado. Tente novamente em instantes.",
	LangRU: "Извините, у нас возникла техническая проблема. Попробуйте ещё раз через минуту.",
	LangHE: "מצטערים, משהו השתבש אצלנו. נסו שוב בעוד רגע.",
}

var fallbackDoctorsTemplates = map[string]string{
	LangEN: "I'm having a little trouble right now, but these specialists match what you're looking for: %s. Would you like to book with one of them?",
	LangES: "Estoy teniendo un problema técnico, pero estos especialistas encajan con lo que buscas: %s. ¿Quieres agendar con alguno?",
	LangPT: "Estou com um problema técnico, mas estes especialistas atendem o que você procura: %s. Quer marcar com algum deles?",
	LangRU: "У меня небольшие технические неполадки, но вот специалисты, которые вам подходят: %s. Хотите записаться к кому-то из них?",
	LangHE: "יש לי תקלה קטנה כרגע, אבל המומחים האלה מתאימים למה שחיפשת: %s. לקבוע תור לאחד מהם?",
}

var priceHeaderTemplates = map[string]string{
	LangEN: "Here are our current prices:",
	LangES: "Estos son nuestros precios actuales:",
	LangPT: "Estes são nossos preços atuais:",
	LangRU: "Вот наши актуальные цены:",
	LangHE: "אלה המחירים העדכניים שלנו:",
}

var priceFooterTemplates = map[string]string{
	LangEN: "Want me to book you in for any of these?",
	LangES: "¿Quieres que te agende alguno?",
	LangPT: "Quer que eu marque algum deles para você?",
	LangRU: "Хотите записаться на что-нибудь из этого?",
	LangHE: "רוצה שאקבע לך תור לאחד מהם?",
}

var stateEchoPrefixes = map[string]string{
	LangEN: "📝 So far: ",
	LangES: "📝 Hasta ahora: ",
	LangPT: "📝 Até agora: ",
	LangRU: "📝 Пока что: ",
	LangHE: "📝 עד כה: ",
}

var withDoctorLabels = map[string]string{
	LangEN: "with %s",
	LangES: "con %s",
	LangPT: "com %s",
	LangRU: "к %s",
	LangHE: "אצל %s",
}

var notDoctorLabels = map[string]string{
	LangEN: "not %s",
	LangES: "no con %s",
	LangPT: "não com %s",
	LangRU: "не к %s",
	LangHE: "לא אצל %s",
}

func pickTemplate(table map[string]string, lang string) string {
	if t, ok := table[lang]; ok {
		return t
	}
	return table[LangEN]
}

// constraintParts feeds the one-line state echo the user can scan to
// verify what the bot believes. Appended on turns that changed the
// constraints.
type constraintParts struct {
	Service         string
	Doctor          string
	ExcludedDoctors []string
	TimeLabel       string
}

func stateEcho(lang string, parts constraintParts) string {
	var items []string
	if parts.Service != "" {
		items = append(items, parts.Service)
	}
	if parts.Doctor != "" {
		items = append(items, fmt.Sprintf(pickTemplate(withDoctorLabels, lang), parts.Doctor))
	}
	for _, d := range parts.ExcludedDoctors {
		items = append(items, fmt.Sprintf(pickTemplate(notDoctorLabels, lang), d))
	}
	if parts.TimeLabel != "" {
		items = append(items, parts.TimeLabel)
	}
	if len(items) == 0 {
		return ""
	}
	return pickTemplate(stateEchoPrefixes, lang) + strings.Join(items, ", ")
}
