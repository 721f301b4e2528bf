// Lead intake service.
//
// Inbound leads (site forms, paid traffic) arrive here before any WhatsApp
// conversation exists. The service scores the lead against the ICP
// heuristics, asks the model for a short conversion strategy in strict JSON,
// records the lead as a contact, and pushes the resulting follow-up actions
// to the CRM.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/crm"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/domain"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/llm"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/repo"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/search"
)

const (
	// leadContextTopK and leadContextCharLimit bound the knowledge context
	// injected into the strategy prompt.
	leadContextTopK      = 4
	leadContextCharLimit = 2400

	// qualifiedScore splits "qualificado" from "avaliar".
	qualifiedScore = 70

	leadSystemPrompt = "Você é um agente de Vendas e CRM do CENAT. " +
		"Escreva de forma acolhedora, técnica e direta, com linguagem acessível. " +
		"Responda SEMPRE apenas um JSON válido conforme o schema fornecido."

	leadSchemaHint = `{"message":"mensagem personalizada e curta (máx. 500 caracteres) para enviar ao lead",` +
		`"next_action":"whatsapp | call | email","priority":"baixa | média | alta",` +
		`"product_suggestion":"nome do produto/serviço mais adequado"}`
)

// icpKeywords are profession fragments that match the ideal customer
// profile (mental health and education staff).
var icpKeywords = []string{
	"psicolog", "psico", "clinica", "saude mental",
	"coordenador", "professor", "gestor",
	"enferm", "terapeuta", "psiqu",
}

// CRMApplier is the narrow CRM contract the lead pipeline depends on.
type CRMApplier interface {
	Apply(ctx context.Context, target crm.Target, actions crm.Actions) crm.Results
}

// LeadInput is one inbound lead as captured by the intake form.
type LeadInput struct {
	Name        string
	Email       string
	Phone       string
	Profession  string
	Interest    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string

	// DealID references an existing CRM deal, when the intake already
	// created one upstream.
	DealID string
}

// LeadStrategy is the structured intake verdict returned to the caller.
type LeadStrategy struct {
	Status            string       `json:"status"`
	LeadName          string       `json:"lead_name"`
	Score             int          `json:"lead_score"`
	Reasoning         string       `json:"reasoning"`
	Message           string       `json:"message"`
	NextAction        string       `json:"next_action"`
	Priority          string       `json:"priority"`
	ProductSuggestion string       `json:"product_suggestion"`
	CRM               *crm.Results `json:"crm_results,omitempty"`
}

// LeadService turns raw lead captures into a conversion strategy plus CRM
// side effects.
type LeadService struct {
	DB    *gorm.DB
	Index search.Index
	LLM   llm.Completer
	CRM   CRMApplier

	Clock func() time.Time
}

// ProcessLead scores and registers the lead, drafts the outreach strategy,
// and applies the follow-up actions to the CRM. The model is advisory: when
// it fails or returns garbage the lead still gets scored, stored, and a
// stock outreach message.
func (s *LeadService) ProcessLead(ctx context.Context, in LeadInput) (*LeadStrategy, error) {
	tr := otel.Tracer("services/LeadService")
	ctx, span := tr.Start(ctx, "ProcessLead",
		trace.WithAttributes(attribute.String("lead.utm_source", in.UTMSource)),
	)
	defer span.End()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "Lead"
	}
	interest := strings.TrimSpace(in.Interest)
	if interest == "" {
		interest = "serviços gerais"
	}
	utmSource := strings.TrimSpace(in.UTMSource)
	if utmSource == "" {
		utmSource = "site"
	}

	score, reasons := icpFitScore(in)
	status := "avaliar"
	if score >= qualifiedScore {
		status = "qualificado"
	}
	reasoning := "Heurística padrão aplicada."
	if len(reasons) > 0 {
		reasoning = strings.Join(reasons, "; ")
	}
	span.SetAttributes(attribute.Int("lead.score", score))

	if in.Phone != "" {
		err := repo.UpsertContact(ctx, s.DB, &domain.Contact{
			Phone:  in.Phone,
			Name:   name,
			Email:  in.Email,
			Course: interest,
		})
		if err != nil {
			return nil, err
		}
	}

	strategy := &LeadStrategy{
		Status:    status,
		LeadName:  name,
		Score:     score,
		Reasoning: reasoning,
	}
	s.draftOutreach(ctx, strategy, name, interest, utmSource, in)

	if s.CRM != nil {
		res := s.CRM.Apply(ctx, crm.Target{DealID: in.DealID, Email: in.Email}, crm.Actions{
			Stage: status,
			Tags:  defaultTags(interest, score),
			Note:  reasoning,
			Task:  followUpTask(strategy.Priority, name, s.now()),
		})
		strategy.CRM = &res
	}

	return strategy, nil
}

// draftOutreach fills the message fields of the strategy, via the model when
// it cooperates and from stock copy otherwise.
func (s *LeadService) draftOutreach(ctx context.Context, st *LeadStrategy, name, interest, utmSource string, in LeadInput) {
	user := fmt.Sprintf(
		"LEAD:\n- Nome: %s\n- Interesse: %s\n- Origem: %s\n- Email: %s\n- Telefone: %s\n\n"+
			"CONTEXTOS (use apenas o que for útil):\n%s\n\n"+
			"INSTRUÇÕES DE SAÍDA (OBRIGATÓRIO):\n"+
			"Retorne SOMENTE um objeto JSON, sem texto antes/depois, seguindo exatamente este schema:\n%s\n"+
			"REGRAS:\n"+
			"- Se o interesse combinar com congresso/evento, priorize 'whatsapp' como next_action.\n"+
			"- Se for lead muito quente (congresso em breve, urgência, datas próximas), prioridade 'alta'.\n"+
			"- Mantenha a mensagem até 500 caracteres, com CTA claro (ex.: link/whatsapp).\n"+
			"- NÃO invente preços/datas. Use apenas o que consta no contexto.",
		name, interest, utmSource, in.Email, in.Phone,
		s.knowledgeContext(interest+" "+utmSource), leadSchemaHint,
	)

	raw, err := s.LLM.Complete(ctx, []llm.ChatMessage{
		{Role: "system", Content: leadSystemPrompt},
		{Role: roleUser, Content: user},
	})
	if err != nil {
		st.Message = fmt.Sprintf("Olá %s! Recebemos seu interesse em %s. Vamos te chamar no WhatsApp para avançarmos.", name, interest)
		st.NextAction = "whatsapp"
		st.Priority = "média"
		st.ProductSuggestion = interest
		return
	}

	p := parseStrategyJSON(raw)
	st.Message = p.Message
	if st.Message == "" {
		st.Message = fmt.Sprintf("Olá %s, em breve entraremos em contato.", name)
	}
	st.NextAction = orDefault(p.NextAction, "whatsapp")
	st.Priority = orDefault(p.Priority, "média")
	st.ProductSuggestion = orDefault(p.ProductSuggestion, "Consulta inicial")
}

// knowledgeContext assembles the retrieval snippet block for the prompt,
// capped so a fat corpus cannot blow up the request.
func (s *LeadService) knowledgeContext(query string) string {
	if s.Index == nil {
		return "Nenhuma informação específica encontrada."
	}
	kb := strings.TrimSpace(search.BuildContext(s.Index, query, leadContextTopK))
	if kb == "" {
		return "Nenhuma informação específica encontrada."
	}
	if len(kb) > leadContextCharLimit {
		kb = kb[:leadContextCharLimit] + " ..."
	}
	return kb
}

// icpFitScore rates the lead 0..100 against the ICP heuristics, returning
// the score and the reasons that moved it off the 50-point baseline.
func icpFitScore(in LeadInput) (int, []string) {
	score := 50
	var reasons []string

	prof := slugless(in.Profession)
	for _, k := range icpKeywords {
		if strings.Contains(prof, k) {
			score += 10
			reasons = append(reasons, fmt.Sprintf("Profissão com match (%s)", in.Profession))
			break
		}
	}
	if strings.EqualFold(in.UTMMedium, "cpc") {
		score += 5
		reasons = append(reasons, "Tráfego pago (cpc)")
	}
	switch strings.ToLower(in.UTMSource) {
	case "facebook", "meta", "instagram":
		score += 5
		reasons = append(reasons, fmt.Sprintf("Fonte social (%s)", in.UTMSource))
	}
	if in.Phone != "" {
		score += 10
		reasons = append(reasons, "Telefone presente")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, reasons
}

// defaultTags derives the CRM tags for a lead: the interest slug plus a fit
// band at the extremes.
func defaultTags(interest string, score int) []string {
	var tags []string
	if slug := slugify(interest); slug != "" {
		tags = append(tags, slug)
	}
	switch {
	case score >= 75:
		tags = append(tags, "alto-fit")
	case score < 60:
		tags = append(tags, "avaliar-fit")
	}
	return tags
}

// followUpTask requests a next-day call task for high-priority leads; other
// priorities get no task.
func followUpTask(priority, name string, now time.Time) *crm.Task {
	if priority != "alta" {
		return nil
	}
	return &crm.Task{
		Title:   "Contato prioritário: " + name,
		DueDate: now.Add(24 * time.Hour).Format("2006-01-02"),
	}
}

type strategyPayload struct {
	Message           string `json:"message"`
	NextAction        string `json:"next_action"`
	Priority          string `json:"priority"`
	ProductSuggestion string `json:"product_suggestion"`
}

var (
	jsonFence  = regexp.MustCompile("```(?:json)?")
	jsonObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// parseStrategyJSON accepts the model output as-is, with markdown fences
// stripped, or as the first embedded JSON object; anything less yields the
// zero payload and the caller's defaults take over.
func parseStrategyJSON(raw string) strategyPayload {
	var p strategyPayload
	if json.Unmarshal([]byte(raw), &p) == nil {
		return p
	}
	clean := strings.TrimSpace(jsonFence.ReplaceAllString(raw, ""))
	if json.Unmarshal([]byte(clean), &p) == nil {
		return p
	}
	if m := jsonObject.FindString(clean); m != "" {
		_ = json.Unmarshal([]byte(m), &p)
	}
	return p
}

// slugify lowercases, folds diacritics, and dashes separators, matching how
// the CRM expects tags ("Pós em Saúde Mental" becomes "pos-em-saude-mental").
func slugify(s string) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(slugless(s))
}

// slugless is slugify without the separator rewrite, used for keyword
// matching.
func slugless(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return folded
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (s *LeadService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
