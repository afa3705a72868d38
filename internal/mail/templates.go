package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	kindVerificationCode = "verification_code"
	kindWelcome          = "welcome"
	kindPasswordReset    = "password_reset"
)

var subjects = map[string]string{
	kindVerificationCode: "Código de Verificação - Cadastro de Benefícios",
	kindWelcome:          "Bem-vindo ao Sistema de Cadastro de Benefícios!",
	kindPasswordReset:    "Redefinição de Senha - Cadastro de Benefícios",
}

// each content template defines "content", so every kind gets its own set
var (
	htmlTemplates = map[string]*htmltemplate.Template{}
	textTemplates = map[string]*texttemplate.Template{}
)

func init() {
	for kind := range subjects {
		htmlTemplates[kind] = htmltemplate.Must(htmltemplate.ParseFS(templatesFS, "templates/layout.html", "templates/"+kind+".html"))
		textTemplates[kind] = texttemplate.Must(texttemplate.ParseFS(templatesFS, "templates/"+kind+".txt"))
	}
}

// Message is a rendered email ready for delivery.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type templateData struct {
	Name string
	Code string
	Link string
	Year int
}

func render(kind, to string, data templateData) (*Message, error) {
	data.Year = time.Now().Year()

	var html bytes.Buffer
	if err := htmlTemplates[kind].ExecuteTemplate(&html, "layout", data); err != nil {
		return nil, fmt.Errorf("render %s html: %w", kind, err)
	}
	var text bytes.Buffer
	if err := textTemplates[kind].Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render %s text: %w", kind, err)
	}
	return &Message{To: to, Subject: subjects[kind], HTML: html.String(), Text: text.String()}, nil
}

func verificationCodeMessage(to, name, code string) (*Message, error) {
	return render(kindVerificationCode, to, templateData{Name: name, Code: code})
}

func welcomeMessage(to, name string) (*Message, error) {
	return render(kindWelcome, to, templateData{Name: name})
}

func passwordResetMessage(frontendURL, to, name, token string) (*Message, error) {
	link := frontendURL + "/reset-password?token=" + url.QueryEscape(token)
	return render(kindPasswordReset, to, templateData{Name: name, Link: link})
}
