package api

import (
	_ "embed"
	"net/http"
	"strings"
)

//go:embed openapi.yaml
var openAPISpec string

// SpecHandler serves the OpenAPI YAML spec. The document carries a
// {supabaseURL} placeholder that is replaced with the configured project URL
// so the login link in the docs points at the right project.
func SpecHandler(supabaseURL string) http.HandlerFunc {
	spec := strings.ReplaceAll(openAPISpec, "{supabaseURL}", supabaseURL)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(spec))
	}
}

// SwaggerHandler returns an HTTP handler that serves the Swagger UI. Callers
// paste a Supabase access token into the "Authorize" dialog.
func SwaggerHandler() http.HandlerFunc {
	page := strings.ReplaceAll(swaggerHTML, "${SPEC_URL}", "/openapi.yaml")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Mindgrate API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
  window.onload = function() {
    window.ui = SwaggerUIBundle({
      url: "${SPEC_URL}",
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout",
      persistAuthorization: true
    });
  }
  </script>
</body>
</html>`
