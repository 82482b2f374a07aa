// Package email renders the HTML/text market report and delivers it
// over SMTP using either STARTTLS (port 587) or direct TLS (port 465).
package email

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/config"
	"github.com/weichuangxin420/newsflow/server/internal/models"
)

// Config holds SMTP server configuration and the template identity
// fields (from name, subject prefix).
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	UseSSL   bool
	FromName string
	Subject  string
}

func FromSMTPConfig(smtp config.SMTPConfig, tmpl config.TemplateConfig) Config {
	return Config{
		Host: smtp.Server, Port: smtp.Port, Username: smtp.Username, Password: smtp.Password,
		UseTLS: smtp.UseTLS, UseSSL: smtp.UseSSL, FromName: tmpl.FromName, Subject: tmpl.Subject,
	}
}

// ReportItem pairs one NewsItem with its latest AnalysisResult for
// rendering. AnalysisResult may be nil when only precomputed
// importance is available.
type ReportItem struct {
	Item     *models.NewsItem
	Analysis *models.AnalysisResult
}

// ReportData is the fully computed template contract: every field the
// renderer must emit.
type ReportData struct {
	GeneratedAt   time.Time
	ItemCount     int
	Positive      int
	Negative      int
	Neutral       int
	HighCount     int
	MediumCount   int
	LowCount      int
	HighImpact    []RenderedItem
	AllNews       []RenderedItem
	IsDailySummary bool
}

// RenderedItem is one row of the report, with derived display fields
// already computed (badge text, excerpt, formatted time).
type RenderedItem struct {
	Title           string
	Source          string
	PublishTimeText string
	ImpactScore     float64
	ImpactBadge     string
	ImportanceScore int
	ImportanceBadge string
	Summary         string
	Excerpt         string
}

const (
	highImpactAbsThreshold = 10
	highImportance         = 80
	mediumImportance       = 50
)

// BuildReport computes the full template contract from a list of
// (NewsItem, AnalysisResult) pairs. isDailySummary switches the report
// title from the digest wording (快讯) to the daily-summary wording (日报);
// the "High impact" section is built the same way in both cases (the
// daily summary has no score floor applied upstream).
func BuildReport(pairs []ReportItem, isDailySummary bool) ReportData {
	data := ReportData{GeneratedAt: time.Now(), ItemCount: len(pairs), IsDailySummary: isDailySummary}

	rendered := make([]RenderedItem, 0, len(pairs))
	for _, p := range pairs {
		impactScore := 0.0
		summary := ""
		if p.Analysis != nil {
			impactScore = p.Analysis.ImpactScore
			summary = p.Analysis.Summary
		}

		switch {
		case impactScore > 5:
			data.Positive++
		case impactScore < -5:
			data.Negative++
		default:
			data.Neutral++
		}

		switch {
		case p.Item.ImportanceScore >= highImportance:
			data.HighCount++
		case p.Item.ImportanceScore >= mediumImportance:
			data.MediumCount++
		default:
			data.LowCount++
		}

		rendered = append(rendered, RenderedItem{
			Title:           p.Item.Title,
			Source:          p.Item.Source,
			PublishTimeText: p.Item.PublishTime.Format("1-2 15:04"),
			ImpactScore:     impactScore,
			ImpactBadge:     impactBadge(impactScore),
			ImportanceScore: p.Item.ImportanceScore,
			ImportanceBadge: importanceBadge(p.Item.ImportanceScore),
			Summary:         summary,
			Excerpt:         excerpt(p.Item.Content, 200),
		})
	}

	sort.SliceStable(rendered, func(i, j int) bool {
		return abs(rendered[i].ImpactScore) > abs(rendered[j].ImpactScore)
	})

	data.AllNews = rendered

	for _, r := range rendered {
		if abs(r.ImpactScore) > highImpactAbsThreshold {
			data.HighImpact = append(data.HighImpact, r)
		}
		if len(data.HighImpact) >= 5 {
			break
		}
	}

	return data
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func impactBadge(score float64) string {
	switch {
	case score > 5:
		return "利好"
	case score < -5:
		return "利空"
	default:
		return "中性"
	}
}

func importanceBadge(score int) string {
	switch {
	case score >= highImportance:
		return "高度重要"
	case score >= mediumImportance:
		return "中度重要"
	default:
		return "一般"
	}
}

func excerpt(content string, max int) string {
	r := []rune(content)
	if len(r) <= max {
		return content
	}
	return string(r[:max]) + "..."
}

// Composer renders ReportData into HTML and text bodies and delivers
// them via SMTP.
type Composer struct {
	cfg Config
	log *zap.SugaredLogger
}

func NewComposer(cfg Config, log *zap.SugaredLogger) *Composer {
	return &Composer{cfg: cfg, log: log}
}

// Send renders data under subject and delivers it to every recipient
// in one multipart/alternative message.
func (c *Composer) Send(recipients []string, subjectSuffix string, data ReportData) error {
	htmlBody, textBody, err := renderTemplates(data)
	if err != nil {
		return fmt.Errorf("email: rendering report: %w", err)
	}

	subject := c.cfg.Subject
	if subjectSuffix != "" {
		subject = fmt.Sprintf("%s - %s", subject, subjectSuffix)
	}

	message := buildMIMEMessage(c.cfg, recipients, subject, textBody, htmlBody)
	if err := c.sendSMTP(recipients, []byte(message)); err != nil {
		return fmt.Errorf("email: sending: %w", err)
	}
	c.log.Infow("report email sent", "recipients", len(recipients), "items", data.ItemCount)
	return nil
}

func buildMIMEMessage(cfg Config, to []string, subject, textBody, htmlBody string) string {
	boundary := fmt.Sprintf("boundary-newsflow-%d", time.Now().UnixNano())
	from := cfg.Username

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", cfg.FromName, from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
	b.WriteString(textBody)
	b.WriteString("\r\n\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.String()
}

// sendSMTP routes to STARTTLS or direct-TLS delivery by port, matching
// the port-based strategy of the source email service.
func (c *Composer) sendSMTP(to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)

	if c.cfg.UseSSL || c.cfg.Port == 465 {
		return c.sendWithDirectTLS(to, msg, auth, addr)
	}
	return c.sendWithSTARTTLS(to, msg, auth, addr)
}

func (c *Composer) sendWithSTARTTLS(to []string, msg []byte, auth smtp.Auth, addr string) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer client.Quit()

	if c.cfg.UseTLS {
		tlsConfig := &tls.Config{ServerName: c.cfg.Host}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starting tls: %w", err)
		}
	}

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp authentication failed: %w", err)
	}
	return c.sendMessage(client, to, msg)
}

func (c *Composer) sendWithDirectTLS(to []string, msg []byte, auth smtp.Auth, addr string) error {
	tlsConfig := &tls.Config{ServerName: c.cfg.Host}
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("connecting to smtp server with tls: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Quit()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp authentication failed: %w", err)
	}
	return c.sendMessage(client, to, msg)
}

func (c *Composer) sendMessage(client *smtp.Client, to []string, msg []byte) error {
	if err := client.Mail(c.cfg.Username); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("setting recipient %s: %w", recipient, err)
		}
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("getting data writer: %w", err)
	}
	defer writer.Close()

	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}
