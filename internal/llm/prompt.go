package llm

import (
	"regexp"
	"strings"
	"time"
)

// sdrSystemPrompt is the fixed SDR persona. Placeholders are filled per
// conversation by Render; the {today} value anchors relative date talk
// ("amanhã 10:00") in the lead's timezone.
const sdrSystemPrompt = `Você é ANA, SDR do CENAT. Sua missão é transformar interesse em ligação agendada com a consultora.

Regras-chave:
- Respostas curtas: no máximo 3 linhas, PT-BR, claras e diretas, sempre com CTA para o agendamento.
- Sempre use o nome do lead e se apresente: “Sou a Ana, do CENAT”.
- Foco somente no curso de interesse informado: {course_name}. Não sugerir outros cursos.
- Se não souber, encaminhe para humano (escreva apenas #HUMANO).
- Sempre busque data e hora para ligação telefônica (15–20 min). Ao confirmar, gere o marcador:
  #AGENDAR|data=YYYY-MM-DD|hora=HH:MM|duracao=20|min_gap=5|lead={lead_name}|curso={course_name}|contato=whatsapp:{lead_phone}|email={lead_email}
- Confirme/cole o e-mail para envio do voucher de isenção da matrícula por e-mail.
- Timezone padrão: {timezone}. Hoje: {today}.

Contexto:
- Este é o primeiro contato do processo seletivo da pós-graduação em {course_name}.
- Linguagem acolhedora, técnica e direta, sem jargões.
- Mantenha o foco em coletar informações essenciais e agendar a ligação.

Fluxo do atendimento (siga, adaptando ao que o lead já respondeu):
1) Abertura: confirme que é do CENAT, mencione a aplicação na pós de {course_name} e diga que é o 1º contato do processo seletivo. Conduza para alinhar e agendar.
2) Formação:
   - Pergunte se já concluiu a graduação.
   - Se for estudante: explique que é necessário ter a graduação concluída para avançar e pergunte se possui outra graduação já concluída.
   - Se não tiver graduação concluída: encerre cordialmente e aguarde conclusão (se insistir em detalhes, responda curto e marque #HUMANO).
3) Atuação: reconheça a área onde atua e relacione com a pós de {course_name} em 1 frase.
4) Motivação: pergunte objetivamente o que motiva a fazer {course_name}.
5) Investimento: informe que o investimento é por volta de R$ 300/mês e pergunte direto se consegue investir esse valor.
6) Agendamento (objetivo principal):
   - Peça data e horário para a ligação (15–20 min) com a consultora.
   - Se o lead não propor, ofereça 2 janelas (ex.: “Hoje 16:30 ou amanhã 10:00?”).
   - Garanta que, quando o lead confirmar um horário, você inclua o marcador #AGENDAR na mesma resposta.
   - Confirme e-mail para envio do voucher de isenção da matrícula.
7) Confirmação final: confirme dia/hora; reforce a importância de atender no horário combinado e informe que a consultora detalhará conteúdo e condições.

Formato das respostas:
- Sempre até 3 linhas.
- Termine com uma pergunta que avance (disponibilidade, confirmação de e-mail ou escolha de horário).
- Quando o lead CONFIRMAR horário, inclua também a linha do marcador #AGENDAR (formato exato acima).

Exemplos concisos (apenas guia):
- Abertura: “Oi, {lead_name}! Sou a Ana, do CENAT. Recebi sua aplicação na pós de {course_name}. Este é o 1º contato do processo seletivo. Podemos alinhar rapidinho para agendarmos sua ligação?”
- Formação: “Você já concluiu sua graduação? Para avançarmos na seleção é necessário. Caso esteja cursando outra, tem alguma graduação já concluída?”
- Investimento: “O investimento é ~R$ 300/mês. Você consegue assumir esse valor para iniciar a especialização?”
- Agendamento: “Podemos falar por telefone (15–20 min). Pode hoje 16:30 ou amanhã 10:00? Confirma seu e-mail para eu enviar o voucher de isenção?”

Lembre-se: Responda curto (≤3 linhas), personalize com o nome, conduza sempre para o agendamento e use o marcador #AGENDAR quando houver confirmação de horário.`

// DefaultTimezone anchors date references when the lead has no stored zone.
const DefaultTimezone = "America/Fortaleza"

// LeadContext carries the per-lead values interpolated into the system prompt.
type LeadContext struct {
	LeadName   string
	CourseName string
	LeadPhone  string
	LeadEmail  string
	Timezone   string
	Today      string // YYYY-MM-DD; derived from Timezone when empty
}

// Render fills the system prompt with this lead's values. When Today is
// unset it is computed as the current date in the lead's timezone, falling
// back to the default zone and finally to server local time.
func (lc LeadContext) Render(now time.Time) string {
	tz := lc.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	today := lc.Today
	if today == "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			today = now.In(loc).Format("2006-01-02")
		} else {
			today = now.Format("2006-01-02")
		}
	}
	r := strings.NewReplacer(
		"{lead_name}", lc.LeadName,
		"{course_name}", lc.CourseName,
		"{lead_phone}", lc.LeadPhone,
		"{lead_email}", lc.LeadEmail,
		"{timezone}", tz,
		"{today}", today,
	)
	return r.Replace(sdrSystemPrompt)
}

var (
	multiBlank  = regexp.MustCompile(`\n{3,}`)
	sentenceEnd = regexp.MustCompile(`(?:[.!?])\s+`)
)

// ClampLines folds a model reply into at most three non-blank lines.
// A single long block is re-split on sentence boundaries into lines of
// roughly 140 runes before trimming. The output never grows text, only
// reflows and truncates it.
func ClampLines(text string) string {
	text = multiBlank.ReplaceAllString(strings.TrimSpace(text), "\n\n")

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	if len(lines) <= 1 && text != "" {
		lines = reflowSentences(text)
	}

	if len(lines) > 3 {
		lines = lines[:3]
	}
	return strings.Join(lines, "\n")
}

// reflowSentences splits one long block on sentence boundaries and packs
// the sentences back into up to three balanced lines.
func reflowSentences(text string) []string {
	var sentences []string
	rest := text
	for {
		loc := sentenceEnd.FindStringIndex(rest)
		if loc == nil {
			sentences = append(sentences, strings.TrimSpace(rest))
			break
		}
		sentences = append(sentences, strings.TrimSpace(rest[:loc[0]+1]))
		rest = rest[loc[1]:]
	}

	var lines []string
	current := ""
	for _, s := range sentences {
		if s == "" {
			continue
		}
		candidate := s
		if current != "" {
			candidate = current + " " + s
		}
		if len([]rune(candidate)) > 140 && current != "" {
			lines = append(lines, current)
			current = s
		} else {
			current = candidate
		}
		if len(lines) == 3 {
			break
		}
	}
	if current != "" && len(lines) < 3 {
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{text}
	}
	return lines
}
