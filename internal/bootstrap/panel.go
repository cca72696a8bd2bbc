package bootstrap

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
)

var panelTmpl = template.Must(template.New("panel").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>GameNotes</title>
</head>
<body style="margin:0;font-family:Montserrat,Arial,sans-serif;background:#1e1e2e;color:#eee">
<div class="error-container" style="display:flex;flex-direction:column;align-items:center;justify-content:center;min-height:100vh;padding:20px;text-align:center">
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
{{- range .Details}}
<p style="color:#aaa;font-size:0.9em">{{.}}</p>
{{- end}}
<button onclick="location.reload()" style="margin-top:20px;padding:10px 20px;border:none;border-radius:4px;background:#5c6bc0;color:#fff;cursor:pointer">Reload page</button>
</div>
</body>
</html>
`))

type panelData struct {
	Title   string
	Message string
	Details []string
}

// RenderErrorPanel writes a full page that replaces the application and
// offers a manual reload.
func RenderErrorPanel(w http.ResponseWriter, status int, message string, details ...string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = panelTmpl.Execute(w, panelData{
		Title:   "Failed to start the application",
		Message: message,
		Details: details,
	})
}

// HandlerTransport serves requests with an in-process handler instead of the
// network, so the loader can run against the proxy without a listener.
type HandlerTransport struct {
	Handler http.Handler
}

func (t HandlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Present the request the way a server would receive it.
	in := req.Clone(req.Context())
	in.Host = req.URL.Host
	in.RequestURI = req.URL.RequestURI()
	in.URL = &url.URL{Path: req.URL.Path, RawPath: req.URL.RawPath, RawQuery: req.URL.RawQuery}

	rec := httptest.NewRecorder()
	t.Handler.ServeHTTP(rec, in)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}
