package domain

import "strings"

// Model is the canonical generation model code persisted with a job.
type Model string

const (
	ModelUnspecified Model = ""
	ModelV1          Model = "V_1"
	ModelV1Turbo     Model = "V_1_TURBO"
	ModelV2          Model = "V_2"
	ModelV2Turbo     Model = "V_2_TURBO"
	ModelV2A         Model = "V_2A"
	ModelV2ATurbo    Model = "V_2A_TURBO"
)

// StyleType is the canonical style code persisted with a job.
type StyleType string

const (
	StyleTypeUnspecified StyleType = ""
	StyleTypeAuto        StyleType = "AUTO"
	StyleTypeGeneral     StyleType = "GENERAL"
	StyleTypeRealistic   StyleType = "REALISTIC"
	StyleTypeDesign      StyleType = "DESIGN"
	StyleTypeRender3D    StyleType = "RENDER_3D"
	StyleTypeAnime       StyleType = "ANIME"
)

// AspectRatio is the canonical aspect ratio code persisted with a job.
type AspectRatio string

const (
	AspectRatioUnspecified AspectRatio = ""
	AspectRatio1x1         AspectRatio = "ASPECT_1_1"
	AspectRatio16x9        AspectRatio = "ASPECT_16_9"
	AspectRatio9x16        AspectRatio = "ASPECT_9_16"
	AspectRatio4x3         AspectRatio = "ASPECT_4_3"
	AspectRatio3x4         AspectRatio = "ASPECT_3_4"
	AspectRatio3x2         AspectRatio = "ASPECT_3_2"
	AspectRatio2x3         AspectRatio = "ASPECT_2_3"
	AspectRatio16x10       AspectRatio = "ASPECT_16_10"
	AspectRatio10x16       AspectRatio = "ASPECT_10_16"
	AspectRatio1x3         AspectRatio = "ASPECT_1_3"
	AspectRatio3x1         AspectRatio = "ASPECT_3_1"

	// DefaultAspectRatio is applied when a request omits the aspect ratio.
	DefaultAspectRatio = AspectRatio1x1
)

var modelLookup = map[string]Model{
	"v1":         ModelV1,
	"v_1":        ModelV1,
	"v1_turbo":   ModelV1Turbo,
	"v_1_turbo":  ModelV1Turbo,
	"v2":         ModelV2,
	"v_2":        ModelV2,
	"v2_turbo":   ModelV2Turbo,
	"v_2_turbo":  ModelV2Turbo,
	"v2a":        ModelV2A,
	"v_2a":       ModelV2A,
	"v2a_turbo":  ModelV2ATurbo,
	"v_2a_turbo": ModelV2ATurbo,
}

var styleTypeLookup = map[string]StyleType{
	"auto":      StyleTypeAuto,
	"general":   StyleTypeGeneral,
	"realistic": StyleTypeRealistic,
	"design":    StyleTypeDesign,
	"render_3d": StyleTypeRender3D,
	"3d":        StyleTypeRender3D,
	"anime":     StyleTypeAnime,
}

var aspectRatioLookup = map[string]AspectRatio{
	"1:1":   AspectRatio1x1,
	"16:9":  AspectRatio16x9,
	"9:16":  AspectRatio9x16,
	"4:3":   AspectRatio4x3,
	"3:4":   AspectRatio3x4,
	"3:2":   AspectRatio3x2,
	"2:3":   AspectRatio2x3,
	"16:10": AspectRatio16x10,
	"10:16": AspectRatio10x16,
	"1:3":   AspectRatio1x3,
	"3:1":   AspectRatio3x1,
}

var knownAspectRatios = func() map[AspectRatio]struct{} {
	out := make(map[AspectRatio]struct{}, len(aspectRatioLookup))
	for _, v := range aspectRatioLookup {
		out[v] = struct{}{}
	}
	return out
}()

// ParseModel maps free-form input such as "v2" or "V_2" to a model code.
// Unknown input yields ModelUnspecified.
func ParseModel(value string) Model {
	return modelLookup[strings.ToLower(strings.TrimSpace(value))]
}

// ParseStyleType maps free-form input such as "3d" or "Anime" to a style code.
// Unknown input yields StyleTypeUnspecified.
func ParseStyleType(value string) StyleType {
	return styleTypeLookup[strings.ToLower(strings.TrimSpace(value))]
}

// ParseAspectRatio maps "16:9" or "ASPECT_16_9" to an aspect ratio code.
// Unknown input yields AspectRatioUnspecified.
func ParseAspectRatio(value string) AspectRatio {
	value = strings.TrimSpace(value)
	if v, ok := aspectRatioLookup[value]; ok {
		return v
	}
	candidate := AspectRatio(strings.ToUpper(value))
	if _, ok := knownAspectRatios[candidate]; ok {
		return candidate
	}
	return AspectRatioUnspecified
}
