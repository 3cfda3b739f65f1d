package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gainable/config"
	"gainable/models"
	"gainable/providers"
)

// MinPhoneDigits is the shortest accepted phone number.
const MinPhoneDigits = 10

var (
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	postalCodePattern = regexp.MustCompile(`^\d{5}$`)
)

// LeadInput is an inquiry as submitted by a consumer.
type LeadInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Address    string `json:"address"`

	Message     string   `json:"message"`
	Surface     string   `json:"surface"`
	ProjectType string   `json:"project_type"`
	Files       []string `json:"files"`

	TargetExpertID *uint `json:"expert_id"`

	// Website is never shown to humans; only bots fill it in.
	Website string `json:"website"`
}

// LeadReceipt is what the caller learns about a submission.
type LeadReceipt struct {
	LeadID    uint
	Recipient string
	Notified  bool
}

// LeadService takes consumer inquiries in and routes them to a mailbox.
type LeadService struct {
	Config  *config.Config
	DB      *gorm.DB
	Mailer  providers.Mailer
	Logger  *zap.Logger
	Metrics *Metrics
}

// NewLeadService creates a new LeadService.
func NewLeadService(cfg *config.Config, db *gorm.DB, mailer providers.Mailer, logger *zap.Logger, m *Metrics) *LeadService {
	return &LeadService{Config: cfg, DB: db, Mailer: mailer, Logger: logger, Metrics: m}
}

// Validate checks the contact fields of an inquiry.
func (in *LeadInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", "le nom est obligatoire")
	}
	if !emailPattern.MatchString(strings.TrimSpace(in.Email)) {
		return invalid("email", "adresse email invalide")
	}
	if digits(in.Phone) < MinPhoneDigits {
		return invalid("phone", fmt.Sprintf("le téléphone doit comporter au moins %d chiffres", MinPhoneDigits))
	}
	if !postalCodePattern.MatchString(strings.TrimSpace(in.PostalCode)) {
		return invalid("postal_code", "le code postal doit comporter 5 chiffres")
	}
	return nil
}

func digits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Submit validates, persists and routes an inquiry. A filled honeypot is
// reported as success without storing anything. A failed notification does
// not fail the submission once the lead is stored.
func (s *LeadService) Submit(ctx context.Context, in LeadInput) (*LeadReceipt, error) {
	if strings.TrimSpace(in.Website) != "" {
		s.Logger.Info("Lead honeypot triggered, discarding submission", zap.String("email", in.Email))
		return &LeadReceipt{}, nil
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	target := s.resolveTarget(ctx, in.TargetExpertID)

	lead := models.Lead{
		Name:       strings.TrimSpace(in.Name),
		Email:      strings.TrimSpace(in.Email),
		Phone:      strings.TrimSpace(in.Phone),
		City:       strings.TrimSpace(in.City),
		PostalCode: strings.TrimSpace(in.PostalCode),
		Address:    strings.TrimSpace(in.Address),
		Details: datatypes.NewJSONType(models.LeadDetails{
			Message:     in.Message,
			Surface:     in.Surface,
			ProjectType: in.ProjectType,
			Files:       in.Files,
		}),
		Status: models.LeadNew,
	}
	if target != nil {
		lead.TargetExpertID = &target.ID
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&lead).Error; err != nil {
			return err
		}
		if target == nil {
			return nil
		}
		return tx.Create(&models.LeadAssignment{LeadID: lead.ID, ExpertID: target.ID}).Error
	})
	if err != nil {
		s.Logger.Error("Failed to persist lead", zap.Error(err))
		return nil, fmt.Errorf("persist lead: %w", err)
	}

	msg := s.routeEmail(&lead, target)
	route := "admin"
	if target != nil {
		route = "expert"
	}
	s.Metrics.LeadsReceived.WithLabelValues(route).Inc()

	receipt := &LeadReceipt{LeadID: lead.ID, Recipient: msg.To[0]}
	if _, err := s.Mailer.Send(ctx, msg); err != nil {
		s.Metrics.NotificationsFailed.Inc()
		s.Logger.Warn("Lead stored but notification failed",
			zap.Uint("lead_id", lead.ID),
			zap.String("recipient", receipt.Recipient),
			zap.Error(err))
		return receipt, nil
	}
	receipt.Notified = true
	s.Logger.Info("Lead received",
		zap.Uint("lead_id", lead.ID),
		zap.String("route", route),
		zap.String("recipient", receipt.Recipient))
	return receipt, nil
}

// resolveTarget loads the targeted expert. Experts hidden from search, and any
// lookup failure, fall back to admin routing.
func (s *LeadService) resolveTarget(ctx context.Context, id *uint) *models.Expert {
	if id == nil || *id == 0 {
		return nil
	}
	var e models.Expert
	err := s.DB.WithContext(ctx).Where("status = ?", models.ExpertActive).First(&e, *id).Error
	if err != nil {
		s.Logger.Warn("Lead target expert not usable, routing to admin", zap.Uint("expert_id", *id), zap.Error(err))
		return nil
	}
	if strings.TrimSpace(e.Email) == "" {
		s.Logger.Warn("Lead target expert has no email, routing to admin", zap.Uint("expert_id", e.ID))
		return nil
	}
	return &e
}

func (s *LeadService) routeEmail(lead *models.Lead, target *models.Expert) providers.Email {
	msg := providers.Email{
		To:      []string{s.Config.AdminEmail},
		ReplyTo: lead.Email,
		Subject: fmt.Sprintf("Nouvelle demande de devis - %s %s", lead.PostalCode, lead.City),
	}
	if target != nil {
		msg.To = []string{target.Email}
		msg.Cc = []string{s.Config.AdminEmail}
	}
	msg.HTML, msg.Text = renderLeadEmail(lead, target)
	return msg
}

var leadEmailTmpl = template.Must(template.New("lead").Parse(`<h2>Nouvelle demande de devis</h2>
{{if .Expert}}<p>Bonjour {{.Expert.Name}}, un particulier vous a contacté via Gainable.fr.</p>{{end}}
<ul>
<li><strong>Nom :</strong> {{.Lead.Name}}</li>
<li><strong>Email :</strong> {{.Lead.Email}}</li>
<li><strong>Téléphone :</strong> {{.Lead.Phone}}</li>
<li><strong>Localisation :</strong> {{.Lead.Address}} {{.Lead.PostalCode}} {{.Lead.City}}</li>
{{with .Details.ProjectType}}<li><strong>Projet :</strong> {{.}}</li>{{end}}
{{with .Details.Surface}}<li><strong>Surface :</strong> {{.}} m²</li>{{end}}
</ul>
{{with .Details.Message}}<p>{{.}}</p>{{end}}
{{if .Details.Files}}<p>Pièces jointes :</p><ul>{{range .Details.Files}}<li><a href="{{.}}">{{.}}</a></li>{{end}}</ul>{{end}}`))

func renderLeadEmail(lead *models.Lead, target *models.Expert) (string, string) {
	details := lead.Details.Data()
	var buf bytes.Buffer
	data := struct {
		Lead    *models.Lead
		Expert  *models.Expert
		Details models.LeadDetails
	}{lead, target, details}
	if err := leadEmailTmpl.Execute(&buf, data); err != nil {
		buf.Reset()
	}

	text := fmt.Sprintf("Nouvelle demande de devis\nNom: %s\nEmail: %s\nTéléphone: %s\nLocalisation: %s %s %s\n\n%s\n",
		lead.Name, lead.Email, lead.Phone, lead.Address, lead.PostalCode, lead.City, details.Message)
	for _, f := range details.Files {
		text += f + "\n"
	}
	return buf.String(), text
}
