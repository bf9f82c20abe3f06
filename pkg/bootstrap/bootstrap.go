// Package bootstrap renders the user-data shell script that turns a fresh
// Ubuntu machine into a The Littlest JupyterHub classroom for one batch of
// tenants.
package bootstrap

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/mjudeikis/classroom-labs/pkg/api"
)

const (
	// InstallerLog is written by the TLJH installer; the script blocks until
	// it reports completion.
	InstallerLog  = "/opt/tljh/installer.log"
	installerDone = "Done!"

	lessonRepo = "https://github.com/PawseySC/quantum-computing-hackathon"
)

var (
	usernameRe = regexp.MustCompile(`^[a-z0-9_][a-z0-9_.-]{0,31}$`)
	// passwords are embedded in single quotes and piped to chpasswd
	passwordRe = regexp.MustCompile(`^[^'\n\r:\\]+$`)
)

const scriptTmpl = `#!/bin/bash
set -e

# Update system
sudo apt-get update
sudo apt-get install -y python3-pip

# Lesson helper
printf '#!/bin/bash\ngit clone {{ .LessonRepo }}\n' | sudo tee /usr/bin/getlesson >/dev/null
sudo chmod a+rx /usr/bin/getlesson

# Admin account
sudo useradd -m -s /bin/bash {{ .Admin.Username }}
echo '{{ .Admin.Username }}:{{ .AdminPassword }}' | sudo chpasswd
sudo usermod -aG sudo {{ .Admin.Username }}
echo '{{ .Admin.Username }} ALL=(ALL) NOPASSWD:ALL' | sudo tee /etc/sudoers.d/{{ .Admin.Username }}
sudo chmod 0440 /etc/sudoers.d/{{ .Admin.Username }}

# Install TLJH
curl -L https://tljh.jupyter.org/bootstrap.py | sudo python3 - --admin {{ .Admin.Username }} --user-requirements-txt-url {{ .RequirementsURL }} --show-progress-page

echo "Waiting for TLJH installation to complete..."
while [ ! -f {{ .InstallerLog }} ] || ! grep -q "{{ .InstallerDone }}" {{ .InstallerLog }}; do
    sleep 30
    echo "Still waiting for TLJH installation..."
done

# Configure JupyterHub
sudo tljh-config set auth.type jupyterhub.auth.PAMAuthenticator
sudo tljh-config set auth.PAMAuthenticator.open_sessions False
sudo groupadd -f jupyter

# Tenant accounts
{{- range .Tenants }}
sudo useradd -m -s /bin/bash {{ .Username }}
echo '{{ .Username }}:{{ .Password }}' | sudo chpasswd
sudo usermod -aG jupyter {{ .Username }}
sudo tljh-config add-item auth.PAMAuthenticator.whitelist {{ .Username }}
{{- end }}

# Tenants never keep sudo
for username in {{ .Usernames }}; do
    sudo deluser "$username" sudo 2>/dev/null || true
done

sudo tljh-config reload

echo "Verifying admin user..."
if id "{{ .Admin.Username }}" >/dev/null 2>&1; then
    echo "Admin user {{ .Admin.Username }} created successfully"
else
    echo "Failed to create admin user {{ .Admin.Username }}"
    exit 1
fi

echo "Verifying JupyterHub users..."
{{- range .Tenants }}
if id "{{ .Username }}" >/dev/null 2>&1; then
    echo "User {{ .Username }} created successfully"
else
    echo "Failed to create user {{ .Username }}"
    exit 1
fi
{{- end }}

echo "Installation completed successfully!"
`

var script = template.Must(template.New("bootstrap.sh").Option("missingkey=error").Parse(scriptTmpl))

type tenant struct {
	Username string
	Password string
}

type scriptData struct {
	Admin           api.AdminCredential
	AdminPassword   string
	Tenants         []tenant
	Usernames       string
	RequirementsURL string
	InstallerLog    string
	InstallerDone   string
	LessonRepo      string
}

// Render returns the bootstrap script for one machine. It performs no I/O.
func Render(admin api.AdminCredential, tenants []api.TenantCredential, requirementsURL string) (string, error) {
	data, err := newScriptData(admin, tenants, requirementsURL)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := script.Execute(&buf, data); err != nil {
		return "", &api.TemplateRenderError{Field: "template", Err: err}
	}
	return buf.String(), nil
}

func newScriptData(admin api.AdminCredential, tenants []api.TenantCredential, requirementsURL string) (*scriptData, error) {
	requirementsURL = strings.TrimSpace(requirementsURL)
	if requirementsURL == "" || strings.ContainsAny(requirementsURL, " \t\n'\"`$;&|") {
		return nil, &api.TemplateRenderError{Field: "requirements_url"}
	}
	if !usernameRe.MatchString(admin.Username) {
		return nil, &api.TemplateRenderError{Field: "admin.username"}
	}
	if !passwordRe.MatchString(admin.Password.Reveal()) {
		return nil, &api.TemplateRenderError{Field: "admin.password"}
	}
	if len(tenants) == 0 {
		return nil, &api.TemplateRenderError{Field: "tenants"}
	}

	data := &scriptData{
		Admin:           admin,
		AdminPassword:   admin.Password.Reveal(),
		RequirementsURL: requirementsURL,
		InstallerLog:    InstallerLog,
		InstallerDone:   installerDone,
		LessonRepo:      lessonRepo,
	}
	names := make([]string, 0, len(tenants))
	seen := make(map[string]bool, len(tenants))
	for i, t := range tenants {
		if !usernameRe.MatchString(t.Username) || t.Username == admin.Username || seen[t.Username] {
			return nil, &api.TemplateRenderError{Field: fmt.Sprintf("tenants[%d].username", i)}
		}
		seen[t.Username] = true
		if !passwordRe.MatchString(t.Password.Reveal()) {
			return nil, &api.TemplateRenderError{Field: fmt.Sprintf("tenants[%d].password", i)}
		}
		data.Tenants = append(data.Tenants, tenant{Username: t.Username, Password: t.Password.Reveal()})
		names = append(names, t.Username)
	}
	data.Usernames = strings.Join(names, " ")

	return data, nil
}
