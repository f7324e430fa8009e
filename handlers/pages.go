package handlers

import (
	"html/template"
	"net/http"
	"time"
)

var passwordPage = template.Must(template.New("password").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><meta name="robots" content="noindex"><title>Password required</title></head>
<body>
<form id="unlock" method="post" action="{{.VerifyURL}}" data-qr="{{.QR}}">
  <label for="password">This link is password protected</label>
  <input id="password" name="password" type="password" autocomplete="current-password" required autofocus>
  <button type="submit">Continue</button>
  <p id="error" role="alert" hidden></p>
</form>
<script>
const form = document.getElementById("unlock");
form.addEventListener("submit", async (e) => {
  e.preventDefault();
  const res = await fetch(form.getAttribute("action"), {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({password: document.getElementById("password").value, qr: form.dataset.qr === "true"})
  });
  const body = await res.json().catch(() => ({}));
  if (res.ok && body.original_url) { window.location.replace(body.original_url); return; }
  const el = document.getElementById("error");
  el.textContent = body.error || "Something went wrong";
  el.hidden = false;
});
</script>
</body>
</html>
`))

var expiredPage = template.Must(template.New("expired").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><meta name="robots" content="noindex"><title>Link expired</title></head>
<body>
<p>This link has expired{{if .ExpiresAt}} on <time datetime="{{.ExpiresAt}}">{{.ExpiresAt}}</time>{{end}}.</p>
</body>
</html>
`))

type passwordPageData struct {
	ShortCode string
	VerifyURL string
	QR        bool
}

type expiredPageData struct {
	ExpiresAt string
}

func renderPasswordPage(w http.ResponseWriter, shortCode string, qr bool) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	return passwordPage.Execute(w, passwordPageData{
		ShortCode: shortCode,
		VerifyURL: "/api/urls/" + shortCode + "/verify-password",
		QR:        qr,
	})
}

func renderExpiredPage(w http.ResponseWriter, expiresAt *time.Time) error {
	data := expiredPageData{}
	if expiresAt != nil {
		data.ExpiresAt = expiresAt.UTC().Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusGone)
	return expiredPage.Execute(w, data)
}
