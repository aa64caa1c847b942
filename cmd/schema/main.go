package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"arena-duel/server/internal/draft"
	"arena-duel/server/internal/net/proto"
)

// payloads lists one zero value per message kind, in kind order.
var payloads = []proto.Message{
	proto.ApplyDamage{},
	proto.ShowDamageEffect{},
	proto.Heal{},
	proto.Explode{},
	proto.UpdateScore{},
	proto.EndGame{},
	proto.SetTimeScale{},
	proto.RespawnAll{},
	proto.ShowChoiceUI{},
	proto.SubmitChoice{},
	proto.ApplyChoicesAndResume{},
	proto.SpawnProjectile{},
	proto.DestroyProjectile{},
	proto.Welcome{},
	proto.Roster{},
}

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write the JSON schemas into")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	for name, schema := range buildSchemas() {
		if err := writeSchema(filepath.Join(outDir, name), schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", name, err)
			os.Exit(1)
		}
	}
}

func buildSchemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{}

	frame := reflector.Reflect(new(proto.Frame))
	frame.Title = "Arena Duel Envelope"
	frame.Description = "Text frame carried between peers and the relay. payload is described per kind under messages/"

	schemas := map[string]*jsonschema.Schema{"frame.schema.json": frame}
	for _, msg := range payloads {
		schema := reflector.Reflect(msg)
		schema.Title = msg.Kind().String()
		schema.Description = "Payload of frames whose kind is " + msg.Kind().String()
		schemas[payloadFile(msg.Kind())] = schema
	}

	catalog := reflector.Reflect(new(draft.Catalog))
	catalog.Title = "Arena Duel Reward Catalog"
	catalog.Description = "Validates reward catalogs loaded through ARENA_CATALOG_PATH"

	schemas["catalog.schema.json"] = catalog
	return schemas
}

func payloadFile(kind proto.Kind) string {
	return filepath.Join("messages", kind.String()+".schema.json")
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
