package speech

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/antoniostano/ivrsat/internal/ivr"
)

// Prompts holds the fixed announcement texts. Values can be overridden from a
// YAML file; fields left out keep their defaults.
type Prompts struct {
	NotUnderstood  string `yaml:"not_understood"`
	Retry          string `yaml:"retry"`
	MaxAttempts    string `yaml:"max_attempts"`
	ConfirmOption  string `yaml:"confirm_option"`
	TicketNotFound string `yaml:"ticket_not_found"`
	DebtNotFound   string `yaml:"debt_not_found"`
	NoAnswer       string `yaml:"no_answer"`
}

func DefaultPrompts() Prompts {
	engine := ivr.DefaultConfig().Prompts
	return Prompts{
		NotUnderstood:  engine.NotUnderstood,
		Retry:          engine.Retry,
		MaxAttempts:    engine.MaxAttempts,
		ConfirmOption:  "Si es correcto marque 1 - sino marque 2",
		TicketNotFound: "Papeleta no fue encontrada, por favor, intente de nuevo",
		DebtNotFound:   "Deuda no fue encontrada, por favor, intente de nuevo",
		NoAnswer:       "No se pudo identificar la respuesta",
	}
}

// LoadPrompts returns the defaults, overlaid with path when it is set.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}
	var override Prompts
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	p.merge(override)
	return p, nil
}

func (p *Prompts) merge(o Prompts) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&p.NotUnderstood, o.NotUnderstood)
	set(&p.Retry, o.Retry)
	set(&p.MaxAttempts, o.MaxAttempts)
	set(&p.ConfirmOption, o.ConfirmOption)
	set(&p.TicketNotFound, o.TicketNotFound)
	set(&p.DebtNotFound, o.DebtNotFound)
	set(&p.NoAnswer, o.NoAnswer)
}

// Engine returns the subset of texts the call engine plays itself.
func (p Prompts) Engine() ivr.PromptTexts {
	return ivr.PromptTexts{
		NotUnderstood: p.NotUnderstood,
		Retry:         p.Retry,
		MaxAttempts:   p.MaxAttempts,
	}
}

// Fixed lists the texts worth synthesizing ahead of the first call.
func (p Prompts) Fixed() []string {
	return []string{p.NotUnderstood, p.Retry, p.MaxAttempts, p.TicketNotFound, p.DebtNotFound, p.NoAnswer}
}

func (p Prompts) confirmValue(noun, value string) string {
	return fmt.Sprintf("Confirmar que la %s es, %s. %s", noun, JoinText(value), p.ConfirmOption)
}

func (p Prompts) confirmCode(code string) string {
	return fmt.Sprintf("Usted digitó, %s. %s", code, p.ConfirmOption)
}

func plateResult(plate string, count int, total float64) string {
	msg := fmt.Sprintf("La placa %s, cuenta con %d papeletas", JoinText(plate), count)
	if count > 0 {
		msg += fmt.Sprintf(", con un monto total de, %s soles", SpokenAmount(total))
	}
	return msg
}

func ticketResult(document string, amount float64, infractionDate string) string {
	return fmt.Sprintf("La papeleta número %s, tiene un monto de, %s soles. La fecha de infracción, fue el %s",
		JoinText(document), SpokenAmount(amount), DateString(infractionDate))
}

func debtResult(propertyTax, fees float64) string {
	return fmt.Sprintf("Por Impuesto Predial, tiene una deuda de, %s soles. Por Arbitrios, tiene una deuda de, %s soles",
		SpokenAmount(propertyTax), SpokenAmount(fees))
}
