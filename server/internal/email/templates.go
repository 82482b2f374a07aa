package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var funcMap = template.FuncMap{
	"nl2br": func(text string) template.HTML {
		return template.HTML(strings.ReplaceAll(template.HTMLEscapeString(text), "\n", "<br>"))
	},
	"add": func(a, b int) int { return a + b },
}

const htmlReportTemplate = `
<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>财经资讯日报</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; line-height: 1.6; color: #222; max-width: 800px; margin: 0 auto; padding: 20px; }
.header { background: linear-gradient(135deg, #1b3a57 0%, #0d2238 100%); color: white; padding: 24px; border-radius: 10px; margin-bottom: 24px; text-align: center; }
.header h1 { margin: 0; font-size: 1.6em; }
.summary-grid { display: flex; flex-wrap: wrap; gap: 10px; background: #f4f6f8; padding: 15px; border-radius: 8px; margin-bottom: 20px; font-size: 0.9em; }
.badge { display: inline-block; padding: 2px 8px; border-radius: 4px; font-size: 0.8em; }
.badge-up { background: #e6f4ea; color: #1e7e34; }
.badge-down { background: #fdecea; color: #c0392b; }
.badge-neutral { background: #eceff1; color: #546e7a; }
.item { border: 1px solid #e0e0e0; border-radius: 8px; padding: 16px; margin-bottom: 12px; }
.item-title { font-weight: 600; margin-bottom: 6px; }
.item-meta { font-size: 0.85em; color: #666; margin-bottom: 8px; }
.footer { text-align: center; padding: 16px; border-top: 1px solid #e0e0e0; margin-top: 24px; font-size: 0.85em; color: #888; }
@media (max-width: 480px) {
  body { padding: 8px; font-size: 0.92em; }
  .header { padding: 14px; }
  .item { padding: 10px; }
}
</style>
</head>
<body>
<div class="header">
  <h1>财经资讯{{if .IsDailySummary}}日报{{else}}快讯{{end}}</h1>
  <p>{{.GeneratedAt.Format "2006-01-02 15:04"}} · 共 {{.ItemCount}} 条</p>
</div>

<div class="summary-grid">
  <span>利好 {{.Positive}}</span>
  <span>利空 {{.Negative}}</span>
  <span>中性 {{.Neutral}}</span>
  <span>高重要性 {{.HighCount}}</span>
  <span>中重要性 {{.MediumCount}}</span>
  <span>一般 {{.LowCount}}</span>
</div>

{{if .HighImpact}}
<h2>重点影响</h2>
{{range .HighImpact}}
<div class="item">
  <div class="item-title">{{.Title}}</div>
  <div class="item-meta">{{.Source}} · {{.PublishTimeText}} ·
    <span class="badge {{if gt .ImpactScore 5.0}}badge-up{{else if lt .ImpactScore -5.0}}badge-down{{else}}badge-neutral{{end}}">{{.ImpactBadge}}</span>
    <span class="badge badge-neutral">{{.ImportanceBadge}}</span>
  </div>
  <div>{{.Summary}}</div>
  <div>{{.Excerpt | nl2br}}</div>
</div>
{{end}}
{{end}}

<h2>全部资讯</h2>
{{range .AllNews}}
<div class="item">
  <div class="item-title">{{.Title}}</div>
  <div class="item-meta">{{.Source}} · {{.PublishTimeText}} ·
    <span class="badge {{if gt .ImpactScore 5.0}}badge-up{{else if lt .ImpactScore -5.0}}badge-down{{else}}badge-neutral{{end}}">{{.ImpactBadge}}</span>
    <span class="badge badge-neutral">{{.ImportanceBadge}}</span>
  </div>
  <div>{{.Summary}}</div>
  <div>{{.Excerpt | nl2br}}</div>
</div>
{{end}}

<div class="footer">
  <p>本报告由自动化分析系统生成，内容仅供参考，不构成投资建议。</p>
</div>
</body>
</html>`

const textReportTemplate = `财经资讯{{if .IsDailySummary}}日报{{else}}快讯{{end}}
生成时间: {{.GeneratedAt.Format "2006-01-02 15:04"}}  条目数: {{.ItemCount}}
利好 {{.Positive}} / 利空 {{.Negative}} / 中性 {{.Neutral}}
高重要性 {{.HighCount}} / 中重要性 {{.MediumCount}} / 一般 {{.LowCount}}

{{if .HighImpact}}重点影响
----------------------------------------
{{range $i, $it := .HighImpact}}{{add $i 1}}. {{$it.Title}}
   {{$it.Source}} | {{$it.PublishTimeText}} | {{$it.ImpactBadge}} | {{$it.ImportanceBadge}}
   {{$it.Summary}}

{{end}}{{end}}
全部资讯
----------------------------------------
{{range $i, $it := .AllNews}}{{add $i 1}}. {{$it.Title}}
   {{$it.Source}} | {{$it.PublishTimeText}} | {{$it.ImpactBadge}} | {{$it.ImportanceBadge}}
   {{$it.Summary}}

{{end}}
----------------------------------------
本报告由自动化分析系统生成，内容仅供参考，不构成投资建议。
`

func renderTemplates(data ReportData) (string, string, error) {
	htmlTmpl, err := template.New("html").Funcs(funcMap).Parse(htmlReportTemplate)
	if err != nil {
		return "", "", fmt.Errorf("parsing html template: %w", err)
	}
	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return "", "", fmt.Errorf("executing html template: %w", err)
	}

	textTmpl, err := template.New("text").Funcs(funcMap).Parse(textReportTemplate)
	if err != nil {
		return "", "", fmt.Errorf("parsing text template: %w", err)
	}
	var textBuf bytes.Buffer
	if err := textTmpl.Execute(&textBuf, data); err != nil {
		return "", "", fmt.Errorf("executing text template: %w", err)
	}

	return htmlBuf.String(), textBuf.String(), nil
}
