package conversation

import (
	"regexp"
	"strings"
)

// Intent is the fast-path classification of an inbound message.
type Intent string

const (
	IntentGreeting        Intent = "greeting"
	IntentHandoffHuman    Intent = "handoff_human"
	IntentConfirmTime     Intent = "confirm_time"
	IntentBookAppointment Intent = "book_appointment"
	IntentReschedule      Intent = "reschedule"
	IntentCancel          Intent = "cancel"
	IntentPriceQuery      Intent = "price_query"
	IntentFAQQuery        Intent = "faq_query"
	IntentUnknown         Intent = "unknown"
)

// Lane selects downstream handling for a turn.
type Lane string

const (
	LaneFAQ         Lane = "FAQ"
	LanePrice       Lane = "PRICE"
	LaneServiceInfo Lane = "SERVICE_INFO"
	LaneScheduling  Lane = "SCHEDULING"
	LaneComplex     Lane = "COMPLEX"
)

// \b is ASCII-only in RE2, so Cyrillic and Hebrew alternatives carry their
// own left-boundary guard. Stems (отмен, запис) match all inflections.
var intentPatterns = []struct {
	intent Intent
	re     *regexp.Regexp
}{
	{IntentGreeting, regexp.MustCompile(`(?i)^\s*(?:hi|hey|hello|good\s+(?:morning|afternoon|evening)|hola|buenas|buenos\s+d[ií]as|buenas\s+tardes|ol[áa]|oi|bom\s+dia|boa\s+tarde|привет|здравствуйте|добрый\s+(?:день|вечер)|доброе\s+утро|שלום|היי)[^\p{L}\p{N}]*$`)},
	{IntentHandoffHuman, regexp.MustCompile(`(?i)\b(?:human|operator|real\s+person|representative|speak\s+(?:to|with)\s+(?:a\s+)?(?:person|human|someone))\b|persona\s+real|hablar\s+con\s+(?:alguien|una\s+persona)|agente\s+humano|atendente|falar\s+com\s+(?:uma\s+)?pessoa|(?:^|[^\p{L}])(?:оператор|человек|менеджер)|נציג|בן\s+אדם`)},
	{IntentCancel, regexp.MustCompile(`(?i)\bcancel(?:ar|lation|ed|ing)?\b|anular|desmarcar|(?:^|[^\p{L}])отмен|לבטל|ביטול`)},
	{IntentReschedule, regexp.MustCompile(`(?i)\breschedul\w*\b|(?:move|change)\s+(?:my\s+)?appointment|reagendar|cambiar\s+(?:mi\s+)?cita|remarcar|mudar\s+(?:a\s+)?consulta|(?:^|[^\p{L}])перенес|להזיז|לשנות\s+(?:את\s+)?התור`)},
	{IntentConfirmTime, regexp.MustCompile(`(?i)\b(?:confirm|that\s+works|works\s+for\s+me|sounds\s+good|see\s+you\s+then)\b|me\s+sirve|confirmo|pode\s+ser|combinado|(?:^|[^\p{L}])(?:подтвержда|подходит|договорились)|מאשר|מתאים\s+לי`)},
	{IntentPriceQuery, regexp.MustCompile(`(?i)\b(?:price|prices|pricing|cost|costs|how\s+much)\b|cu[áa]nto\s+(?:cuesta|vale|sale)|precio|quanto\s+custa|pre[çc]o|(?:^|[^\p{L}])(?:сколько\s+стоит|цен[аыу]|стоимость)|כמה\s+עולה|מחיר`)},
	{IntentBookAppointment, regexp.MustCompile(`(?i)\b(?:book|booking|appointment|schedule)\b|agendar|reservar|una\s+cita|marcar|(?:^|[^\p{L}])(?:запис|при[её]м)|לקבוע\s+תור|תור`)},
	{IntentFAQQuery, regexp.MustCompile(`(?i)\b(?:hours|open(?:ing)?|address|location|directions|parking|insurance)\b|horario|direcci[óo]n|ubicaci[óo]n|seguro|hor[áa]rio|endere[çc]o|estacionamento|conv[êe]nio|(?:^|[^\p{L}])(?:часы\s+работы|адрес|страховк|парковк)|שעות\s+פתיחה|כתובת|חניה|ביטוח`)},
}

// DetectIntent classifies a message. The pattern order is deliberate:
// whole-message greetings win, then explicit asks (handoff, cancel,
// reschedule, confirm) before the broader booking and FAQ nets.
func DetectIntent(text string) Intent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return IntentUnknown
	}
	for _, p := range intentPatterns {
		if p.re.MatchString(trimmed) {
			return p.intent
		}
	}
	return IntentUnknown
}

var questionCueRE = regexp.MustCompile(`(?i)\?|^(?:what|how|when|where|which|is|are|do|does|can)\b|qu[ée]\s|c[óo]mo\s|o\s+que\s|как\s|что\s|מה\s|איך\s`)

// laneForTurn maps an intent (plus context) to a processing lane.
// mentionsService reports whether the message names a clinic service;
// hasConstraints whether booking constraints are already standing.
func laneForTurn(intent Intent, mentionsService, hasConstraints bool, text string) Lane {
	switch intent {
	case IntentPriceQuery:
		return LanePrice
	case IntentFAQQuery:
		return LaneFAQ
	case IntentBookAppointment, IntentReschedule, IntentCancel, IntentConfirmTime:
		return LaneScheduling
	}
	if hasConstraints {
		return LaneScheduling
	}
	if mentionsService && questionCueRE.MatchString(text) {
		return LaneServiceInfo
	}
	return LaneComplex
}
