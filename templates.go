package main

import (
	"embed"
	"strings"
)

//go:embed templates/*
var templatesFS embed.FS

// getTemplate loads an embedded template and substitutes {{key}} markers.
func getTemplate(name string, vars map[string]string) string {
	data, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		panic("template not found: " + name)
	}

	content := string(data)
	for key, value := range vars {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return content
}

// exampleScenario renders the starter scenario written by init.
func exampleScenario(name string) string {
	return getTemplate("scenario.yaml.example", map[string]string{
		"name": name,
	})
}

// vigilGitignore is the .vigil/.gitignore content written by init.
func vigilGitignore() string {
	return getTemplate("gitignore", nil)
}
