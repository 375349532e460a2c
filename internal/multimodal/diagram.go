package multimodal

import "strings"

// Diagram is a generated Mermaid diagram definition ready for client-side
// rendering.
type Diagram struct {
	Format      string `json:"format"` // always "mermaid"
	DiagramType string `json:"diagram_type"`
	Code        string `json:"mermaid_code"`
	Description string `json:"description"`
}

// fallbackDiagram is the minimal renderable graph used for unrecognized types.
const fallbackDiagram = `graph LR
    A[Input] --> B[Output]`

var diagramTemplates = map[string]string{
	"flowchart": `graph TD
    A[Start] --> B{Decision}
    B -->|Yes| C[Process]
    B -->|No| D[Alternative]
    C --> E[End]
    D --> E`,

	"sequence": `sequenceDiagram
    participant A as Client
    participant B as Server
    A->>B: Request
    B-->>A: Response
    A->>B: Follow-up
    B-->>A: Result`,

	"class": `classDiagram
    class BaseEntity {
        +String id
        +created()
        +updated()
    }
    class ChildEntity {
        +String name
        +process()
    }
    BaseEntity <|-- ChildEntity`,
}

// GenerateDiagram emits templated Mermaid markup for the requested diagram
// type. Templates are fixed; the model refines and captions them downstream.
// Unrecognized types fall back to a minimal two-node graph so the caller
// always gets renderable output.
func GenerateDiagram(diagramType, content string) Diagram {
	kind := strings.ToLower(strings.TrimSpace(diagramType))

	code, ok := diagramTemplates[kind]
	if !ok {
		kind = "generic"
		code = fallbackDiagram
	}

	return Diagram{
		Format:      "mermaid",
		DiagramType: kind,
		Code:        code,
		Description: content,
	}
}
