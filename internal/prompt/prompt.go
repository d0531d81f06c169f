// Package prompt builds the language-model inputs for a turn. It does no I/O.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antoniostano/lumen/internal/emotion"
	"github.com/antoniostano/lumen/internal/memory"
)

// Chat roles accepted in history and emitted in prompts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	facialPlaceholder = "No detectada"
	vocalPlaceholder  = "No detectado"
)

// ErrInvalidHistory reports a malformed conversation history entry.
var ErrInvalidHistory = errors.New("invalid conversation history")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EmotionalContext is what was detected for the latest user utterance.
type EmotionalContext struct {
	FacialDominant string
	Vocal          []emotion.Score
}

// ValidateHistory checks that every entry has a known role.
func ValidateHistory(history []Message) error {
	for i, m := range history {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return fmt.Errorf("%w: entry %d has role %q", ErrInvalidHistory, i, m.Role)
		}
	}
	return nil
}

// BuildReplyMessages returns the system prompt followed by history.
// The memory section is included only when facts is non-empty; the
// emotional section is always present.
func BuildReplyMessages(history []Message, emo EmotionalContext, facts map[string]string) ([]Message, error) {
	if err := ValidateHistory(history); err != nil {
		return nil, err
	}

	sections := make([]string, 0, 2)
	if block := memoryBlock(facts); block != "" {
		sections = append(sections, block)
	}
	sections = append(sections, emotionBlock(emo))

	system := strings.Replace(replySystemTemplate, "{{context}}", strings.Join(sections, "\n\n"), 1)

	out := make([]Message, 0, len(history)+1)
	out = append(out, Message{Role: RoleSystem, Content: strings.TrimSpace(system)})
	out = append(out, history...)
	return out, nil
}

// BuildExtractionPrompt asks for a JSON object of new facts from one exchange.
func BuildExtractionPrompt(userText, reply string) string {
	quoted := make([]string, len(memory.FactKeys))
	for i, k := range memory.FactKeys {
		quoted[i] = "'" + k + "'"
	}

	var b strings.Builder
	b.WriteString("Actúa como un analista de datos preciso para la IA Lumen. Analiza la siguiente conversación y extrae ")
	b.WriteString("únicamente hechos clave y objetivos sobre el usuario. Tu única salida debe ser un objeto JSON válido.\n\n")
	b.WriteString("Claves permitidas en el JSON: ")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(".\n")
	b.WriteString("Reglas importantes:\n")
	b.WriteString("- Extrae solo información nueva y relevante mencionada en este fragmento.\n")
	b.WriteString("- Si no se mencionan hechos nuevos que encajen en las claves, devuelve un JSON vacío: {}.\n")
	b.WriteString("- No incluyas explicaciones, texto introductorio ni bloques ```json. Solo el JSON.\n\n")
	b.WriteString("--- CONVERSACIÓN A ANALIZAR ---\n")
	fmt.Fprintf(&b, "Usuario: %q\n", userText)
	fmt.Fprintf(&b, "Lumen: %q\n", reply)
	b.WriteString("--- FIN DE LA CONVERSACIÓN ---\n\n")
	b.WriteString("JSON_EXTRAIDO:")
	return b.String()
}

func memoryBlock(facts map[string]string) string {
	if len(facts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", humanizeKey(k), facts[k]))
	}
	return "<Datos_Recordados_Usuario>\n" + strings.Join(lines, "\n") + "\n</Datos_Recordados_Usuario>"
}

func emotionBlock(emo EmotionalContext) string {
	facial := strings.TrimSpace(emo.FacialDominant)
	if facial == "" {
		facial = facialPlaceholder
	}
	vocal := vocalPlaceholder
	if top, ok := emotion.Top(emo.Vocal); ok {
		vocal = strings.ToLower(strings.TrimSpace(top.Label))
	}
	return "<Contexto_Emocional_Detectado>\n" +
		"- Expresión facial predominante: " + facial + "\n" +
		"- Tono de voz principal: " + vocal + "\n" +
		"</Contexto_Emocional_Detectado>"
}

// humanizeKey turns "tema_recurrente" into "Tema recurrente".
func humanizeKey(k string) string {
	s := strings.ReplaceAll(strings.TrimSpace(k), "_", " ")
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

const replySystemTemplate = `
<Directiva_Principal>
Tu única misión es ser un oyente empático. NUNCA analices, resumas, debatas o expliques el tema del que habla el usuario. Enfócate en el sentimiento subyacente. Tu respuesta DEBE ser breve y humana.
</Directiva_Principal>

<Persona>
Eres Lumen, un asistente compasivo y sabio. Eres un espacio seguro para que el usuario se exprese. Escuchas con atención, validas sus sentimientos y fomentas la autorreflexión con preguntas abiertas y amables. Tu tono es calmado y natural.
</Persona>

<Principios_Clave>
1. Empatía activa: valida siempre los sentimientos del usuario antes de continuar.
2. No dar consejos: no ofrezcas soluciones; ayuda al usuario a explorar sus propias ideas.
3. Seguridad primero: ante riesgo de autolesión, recomienda ayuda profesional inmediata.
</Principios_Clave>

{{context}}

<Reglas_De_Respuesta>
- Brevedad máxima (1 a 3 frases): una frase para validar, seguida de una pregunta abierta.
- No repitas lo que el usuario dijo.
- Como mucho una pregunta.
- Sin frases de relleno como "Como asistente de IA...".
</Reglas_De_Respuesta>

<Ejemplo_De_Respuesta_Correcta>
Usuario: "Estoy harto de mi trabajo, mi jefe no valora nada de lo que hago."
Respuesta: "Suena muy frustrante sentir que tu esfuerzo no es reconocido. ¿Qué te gustaría que fuera diferente?"
</Ejemplo_De_Respuesta_Correcta>

<Instrucciones_Respuesta>
Reflexiona en silencio sobre el sentimiento principal del usuario y el objetivo de tu respuesta (validar, clarificar o explorar). Tu salida debe ser ÚNICAMENTE el texto dirigido al usuario, sin explicaciones ni análisis.
</Instrucciones_Respuesta>
`
