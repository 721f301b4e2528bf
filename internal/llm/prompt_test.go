package llm

import (
	"strings"
	"testing"
	"time"
)

func TestRender_FillsPlaceholders(t *testing.T) {
	lc := LeadContext{
		LeadName:   "Maria",
		CourseName: "Psicologia Clínica",
		LeadPhone:  "5585999990000",
		LeadEmail:  "maria@email.com",
		Timezone:   "America/Sao_Paulo",
		Today:      "2025-09-01",
	}

	got := lc.Render(time.Now())

	for _, want := range []string{
		"Oi, Maria!",
		"pós de Psicologia Clínica",
		"contato=whatsapp:5585999990000",
		"email=maria@email.com",
		"Timezone padrão: America/Sao_Paulo. Hoje: 2025-09-01.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered prompt missing %q", want)
		}
	}
	if strings.Contains(got, "{lead_name}") || strings.Contains(got, "{course_name}") {
		t.Error("rendered prompt still contains raw placeholders")
	}
}

func TestRender_DerivesTodayFromTimezone(t *testing.T) {
	// 01:30 UTC is still the previous day in Fortaleza (UTC-3).
	now := time.Date(2025, 9, 2, 1, 30, 0, 0, time.UTC)
	lc := LeadContext{LeadName: "João", CourseName: "Saúde Mental"}

	got := lc.Render(now)

	if !strings.Contains(got, "Hoje: 2025-09-01.") {
		t.Errorf("expected today in %s, prompt has: %s", DefaultTimezone, lastLine(got))
	}
	if !strings.Contains(got, "Timezone padrão: America/Fortaleza.") {
		t.Error("expected default timezone fallback")
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

func TestClampLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "short reply untouched",
			in:   "Oi, Maria! Sou a Ana, do CENAT.\nPodemos agendar sua ligação?",
			want: "Oi, Maria! Sou a Ana, do CENAT.\nPodemos agendar sua ligação?",
		},
		{
			name: "extra lines trimmed to three",
			in:   "linha 1\nlinha 2\nlinha 3\nlinha 4\nlinha 5",
			want: "linha 1\nlinha 2\nlinha 3",
		},
		{
			name: "blank lines dropped",
			in:   "linha 1\n\n\n\nlinha 2\n\nlinha 3",
			want: "linha 1\nlinha 2\nlinha 3",
		},
		{
			name: "surrounding whitespace stripped",
			in:   "  Oi, tudo bem?  \n",
			want: "Oi, tudo bem?",
		},
		{
			name: "empty input stays empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampLines(tt.in); got != tt.want {
				t.Errorf("ClampLines(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClampLines_ReflowsSingleBlock(t *testing.T) {
	in := "Oi, Maria! Sou a Ana, do CENAT, e recebi sua aplicação na pós de Psicologia Clínica com muito interesse da nossa equipe de seleção. Este é o primeiro contato do processo seletivo e quero entender melhor o seu momento profissional. Podemos falar por telefone hoje 16:30 ou amanhã 10:00? Confirma seu e-mail para eu enviar o voucher?"

	got := ClampLines(in)

	lines := strings.Split(got, "\n")
	if len(lines) < 2 || len(lines) > 3 {
		t.Fatalf("expected 2-3 reflowed lines, got %d: %q", len(lines), got)
	}
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			t.Errorf("reflow produced blank line in %q", got)
		}
	}
	if !strings.HasPrefix(got, "Oi, Maria!") {
		t.Errorf("reflow must preserve leading text, got %q", got)
	}
}

func TestClampLines_MarkerLineSurvives(t *testing.T) {
	in := "Perfeito, Maria! Confirmado amanhã às 10:00 com a consultora.\n#AGENDAR|data=2025-09-02|hora=10:00|duracao=20|min_gap=5|lead=Maria|curso=Psicologia Clínica|contato=whatsapp:5585999990000|email=maria@email.com\nQualquer imprevisto, me avisa por aqui!"

	got := ClampLines(in)

	if !strings.Contains(got, "#AGENDAR|data=2025-09-02|hora=10:00") {
		t.Errorf("scheduling marker lost: %q", got)
	}
	if n := len(strings.Split(got, "\n")); n != 3 {
		t.Errorf("expected 3 lines, got %d", n)
	}
}
