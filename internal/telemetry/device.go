// Package telemetry builds the engagement events reported back to the server.
package telemetry

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"engagement-sdk/internal/storage"
)

const SDKVersion = "1.4.0"

// Device is the metadata attached to every telemetry body.
type Device struct {
	fields map[string]string
}

// LoadDevice assembles device metadata. The install id is generated once and
// kept in kv; extra entries override the built-in ones.
func LoadDevice(ctx context.Context, kv storage.KV, extra map[string]string) (*Device, error) {
	id, ok, err := kv.Get(ctx, storage.KeyInstallID)
	if err != nil {
		return nil, fmt.Errorf("load install id: %w", err)
	}
	if !ok || id == "" {
		id = uuid.NewString()
		if err := kv.Put(ctx, storage.KeyInstallID, id); err != nil {
			return nil, fmt.Errorf("save install id: %w", err)
		}
	}

	f := map[string]string{
		"install_id":  id,
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
		"sdk_version": SDKVersion,
	}
	maps.Copy(f, extra)
	return &Device{fields: f}, nil
}

func (d *Device) InstallID() string { return d.fields["install_id"] }

func (d *Device) Fields() map[string]string { return maps.Clone(d.fields) }

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

// Merge writes the device fields under the object at path in body. Keys the
// caller already set win.
func (d *Device) Merge(body []byte, path string) ([]byte, error) {
	var err error
	for _, k := range slices.Sorted(maps.Keys(d.fields)) {
		p := path + "." + pathEscaper.Replace(k)
		if gjson.GetBytes(body, p).Exists() {
			continue
		}
		body, err = sjson.SetBytes(body, p, d.fields[k])
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", k, err)
		}
	}
	return body, nil
}
