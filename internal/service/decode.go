package service

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

// decodeBody maps the opaque extra.body of raw onto T using its json tags.
func decodeBody[T any](raw *model.RawEvent) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(raw.Extra.Body); err != nil {
		return out, fmt.Errorf("decode %s body: %w", raw.ExtraType(), err)
	}
	return out, nil
}
