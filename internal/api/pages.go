package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/davidahmann/voicebooks/pkg/types"
)

var stepPageTmpl = template.Must(template.New("step").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Voicebooks</title>
  <style>
    body{font-family:ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial; margin:24px; color:#0f172a; background:#ffffff}
    .card{max-width:720px; border:1px solid #e2e8f0; border-radius:12px; padding:18px 18px; box-shadow:0 1px 2px rgba(0,0,0,.04)}
    .row{display:flex; flex-wrap:wrap; gap:12px}
    .pill{display:inline-block; padding:4px 10px; border-radius:999px; font-size:12px; background:#f1f5f9}
    .ok{background:#dcfce7}
    .warn{background:#fef9c3}
    .muted{color:#475569}
    code{background:#f1f5f9; padding:2px 6px; border-radius:6px}
    h1{font-size:18px; margin:0 0 12px 0}
    .prompt{font-size:15px; margin:12px 0; padding:12px; background:#f8fafc; border-radius:8px}
    .k{width:180px; font-size:12px; color:#475569}
    .v{font-size:13px}
    .kv{display:flex; gap:12px; padding:6px 0; border-bottom:1px dashed #e2e8f0}
    .kv:last-child{border-bottom:none}
    table{border-collapse:collapse; width:100%; font-size:13px; margin:8px 0}
    th,td{text-align:left; padding:6px 8px; border-bottom:1px solid #e2e8f0}
    .total{font-weight:600}
  </style>
</head>
<body>
  <div class="card">
    <h1>{{.Title}}</h1>
    <div class="row" style="margin:10px 0 12px 0">
      <span class="pill">Step: <code>{{.State.CurrentStep}}</code></span>
      <span class="pill ok">{{printf "%.0f" .State.Progress}}% complete</span>
      <span class="pill">Session: <code>{{.State.SessionID}}</code></span>
    </div>

    <div class="prompt">{{.State.StepPrompt}}</div>

    {{if .State.Transcript}}
      <div class="kv"><div class="k">Heard</div><div class="v"><code>{{.State.Transcript}}</code></div></div>
    {{end}}

    {{if .State.RequiresItemDecision}}
      <div class="pill warn">Add another line item, or proceed to review?</div>
      {{with .State.PendingItem}}
        <div class="kv"><div class="k">Pending item</div><div class="v">{{.Description}} &times;{{.Quantity}} @ {{printf "%.2f" .UnitPrice}}</div></div>
      {{end}}
    {{end}}

    {{range .Fields}}
      <div class="kv"><div class="k">{{.Label}}</div><div class="v">{{if .Value}}{{.Value}}{{else}}<span class="muted">n/a</span>{{end}}</div></div>
    {{end}}

    {{if .State.Draft.LineItems}}
      <table>
        <tr><th>Description</th><th>Qty</th><th>Unit</th><th>Total</th></tr>
        {{range .State.Draft.LineItems}}
          <tr><td>{{.Description}}</td><td>{{.Quantity}}</td><td>{{printf "%.2f" .UnitPrice}}</td><td>{{printf "%.2f" .Total}}</td></tr>
        {{end}}
        <tr class="total"><td colspan="3">Invoice total</td><td>{{printf "%.2f" .State.InvoiceTotal}}</td></tr>
      </table>
    {{end}}

    {{if .State.RemoteID}}
      <div class="pill ok">Created: <code>{{.State.RemoteID}}</code></div>
    {{end}}
  </div>
</body>
</html>`))

var errorPageTmpl = template.Must(template.New("error").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Voicebooks</title>
  <style>
    body{font-family:ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial; margin:24px; color:#0f172a; background:#ffffff}
    .card{max-width:720px; border:1px solid #e2e8f0; border-radius:12px; padding:18px 18px; box-shadow:0 1px 2px rgba(0,0,0,.04)}
    .pill{display:inline-block; padding:4px 10px; border-radius:999px; font-size:12px; background:#fee2e2}
    code{background:#f1f5f9; padding:2px 6px; border-radius:6px}
    h1{font-size:18px; margin:0 0 12px 0}
  </style>
</head>
<body>
  <div class="card">
    <h1>Something went wrong</h1>
    <div class="pill">{{.Code}}{{if .Field}} &middot; {{.Field}}{{end}}</div>
    <p>{{.Message}}</p>
  </div>
</body>
</html>`))

type fieldRow struct {
	Label string
	Value string
}

type stepView struct {
	Title  string
	State  types.StepState
	Fields []fieldRow
}

func writeStepPage(w http.ResponseWriter, status int, state types.StepState) {
	title := "New Contact"
	if state.WorkflowKind == types.KindInvoice {
		title = "New Invoice"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = stepPageTmpl.Execute(w, stepView{
		Title:  title,
		State:  state,
		Fields: draftRows(state),
	})
}

func writeErrorPage(w http.ResponseWriter, status int, body types.ErrorBody) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = errorPageTmpl.Execute(w, body)
}

func draftRows(state types.StepState) []fieldRow {
	d := state.Draft
	if state.WorkflowKind == types.KindInvoice {
		return []fieldRow{
			{Label: "Contact", Value: d.ContactName},
			{Label: "Due date", Value: d.DueDate},
		}
	}

	rows := []fieldRow{
		{Label: "Name", Value: d.Name},
		{Label: "Type", Value: contactType(d)},
		{Label: "Email", Value: d.Email},
		{Label: "Phone", Value: d.Phone},
	}
	if d.Address != nil {
		parts := []string{d.Address.Line1, d.Address.City, d.Address.Postcode, d.Address.Country}
		joined := strings.Join(nonEmpty(parts), ", ")
		rows = append(rows, fieldRow{Label: "Address", Value: joined})
	}
	return rows
}

func contactType(d types.Draft) string {
	if d.Name == "" {
		return ""
	}
	if d.IsOrganization {
		return "Organization"
	}
	return "Person"
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
