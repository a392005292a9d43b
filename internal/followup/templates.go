package followup

// Nudge texts keyed by two-letter language code, English fallback. The
// action names match what the reply analyzer stores in pending_action.

var confirmAvailabilityNudges = map[string]string{
	"en": "Quick update 👋 — we're still confirming availability for you and will send options shortly. Thanks for your patience!",
	"es": "Una actualización rápida 👋 — seguimos confirmando disponibilidad y te enviaremos opciones en breve. ¡Gracias por tu paciencia!",
	"pt": "Uma atualização rápida 👋 — ainda estamos confirmando a disponibilidade e enviaremos opções em breve. Obrigado pela paciência!",
	"ru": "Небольшое обновление 👋 — мы всё ещё уточняем свободное время и скоро пришлём варианты. Спасибо за терпение!",
	"he": "עדכון קצר 👋 — אנחנו עדיין בודקים זמינות ונשלח אפשרויות בקרוב. תודה על הסבלנות!",
}

var teamFollowUpNudges = map[string]string{
	"en": "Just checking in 👋 — our team has your request and someone will get back to you here soon.",
	"es": "Solo para avisarte 👋 — nuestro equipo tiene tu solicitud y alguien te responderá por aquí pronto.",
	"pt": "Só passando para avisar 👋 — nossa equipe recebeu sua solicitação e alguém vai te responder por aqui em breve.",
	"ru": "Просто держим вас в курсе 👋 — ваша заявка у нашей команды, и скоро вам здесь ответят.",
	"he": "רק מעדכנים 👋 — הבקשה שלך אצל הצוות שלנו ומישהו יחזור אליך כאן בקרוב.",
}

func nudgeText(action, lang string) string {
	table := teamFollowUpNudges
	if action == "confirm_availability" {
		table = confirmAvailabilityNudges
	}
	if text, ok := table[lang]; ok {
		return text
	}
	return table["en"]
}
