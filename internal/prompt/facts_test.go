package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFacts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{
			name: "plain object",
			raw:  `{"nombre": "Ana", "tema_recurrente": "el trabajo"}`,
			want: map[string]string{"nombre": "Ana", "tema_recurrente": "el trabajo"},
		},
		{
			name: "empty object",
			raw:  `{}`,
			want: map[string]string{},
		},
		{
			name: "unknown keys dropped",
			raw:  `{"nombre": "Ana", "color_favorito": "azul"}`,
			want: map[string]string{"nombre": "Ana"},
		},
		{
			name: "number coerced",
			raw:  `{"edad": 30}`,
			want: map[string]string{"edad": "30"},
		},
		{
			name: "empty and null values dropped",
			raw:  `{"nombre": "  ", "edad": null, "meta_u_objetivo": ["a"]}`,
			want: map[string]string{},
		},
		{
			name: "json fence",
			raw:  "```json\n{\"preferencia_personal\": \"caminar\"}\n```",
			want: map[string]string{"preferencia_personal": "caminar"},
		},
		{
			name: "bare fence",
			raw:  "```\n{\"nombre\": \"Luis\"}\n```",
			want: map[string]string{"nombre": "Luis"},
		},
		{
			name: "single line json fence",
			raw:  "```json{\"edad\": 41}```",
			want: map[string]string{"edad": "41"},
		},
		{
			name: "leading prose",
			raw:  "Aquí está: {\"nombre\": \"Luis\"}",
			want: map[string]string{},
		},
		{
			name: "object inside a sentence",
			raw:  "Claro, aquí tienes: {\"nombre\": \"Ana\"}. Espero que ayude.",
			want: map[string]string{},
		},
		{
			name: "object quoted mid prose",
			raw:  "The user said {\"edad\": 99} maybe",
			want: map[string]string{},
		},
		{
			name: "prose after fence",
			raw:  "```json\n{\"nombre\": \"Ana\"}\n```\nEspero que ayude.",
			want: map[string]string{},
		},
		{
			name: "unterminated fence",
			raw:  "```json\n{\"nombre\": \"Ana\"}",
			want: map[string]string{},
		},
		{
			name: "two objects",
			raw:  `{"nombre": "Ana"} {"edad": 3}`,
			want: map[string]string{},
		},
		{
			name: "malformed",
			raw:  `{"nombre": "Ana"`,
			want: map[string]string{},
		},
		{
			name: "not an object",
			raw:  `["nombre"]`,
			want: map[string]string{},
		},
		{
			name: "empty",
			raw:  "",
			want: map[string]string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseFacts(tc.raw))
		})
	}
}
