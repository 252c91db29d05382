package client

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// The upstream web API is loose about scalar types: identifiers arrive as
// numbers on one endpoint and strings on another, prices carry thousands
// separators, levels are sometimes quoted. FlexString/FlexInt/FlexFloat
// absorb those variations instead of failing the whole payload; anything
// undecodable collapses to the zero value.

// FlexString decodes a JSON string or number into a string
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			*s = ""
			return nil
		}
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		*s = ""
		return nil
	}
	*s = FlexString(num.String())
	return nil
}

// String returns the underlying string
func (s FlexString) String() string { return string(s) }

// FlexInt decodes a JSON number or numeric string into an int64
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler
func (i *FlexInt) UnmarshalJSON(b []byte) error {
	var s FlexString
	_ = s.UnmarshalJSON(b)
	v, err := strconv.ParseInt(strings.TrimSpace(s.String()), 10, 64)
	if err != nil {
		// Some fields arrive as floats ("4.0"); fall back before defaulting
		if f, ferr := strconv.ParseFloat(strings.TrimSpace(s.String()), 64); ferr == nil {
			*i = FlexInt(int64(f))
			return nil
		}
		*i = 0
		return nil
	}
	*i = FlexInt(v)
	return nil
}

// Int returns the underlying value as an int
func (i FlexInt) Int() int { return int(i) }

// Int64 returns the underlying value
func (i FlexInt) Int64() int64 { return int64(i) }

// FlexFloat decodes a JSON number or formatted numeric string ("1,234.5")
// into a float64
type FlexFloat float64

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	var s FlexString
	_ = s.UnmarshalJSON(b)
	cleaned := strings.ReplaceAll(strings.TrimSpace(s.String()), ",", "")
	if cleaned == "" || cleaned == "-" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}

// Float64 returns the underlying value
func (f FlexFloat) Float64() float64 { return float64(f) }

// envelope is the {data: ...} wrapper every upstream endpoint uses
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// RawListing is one row of the paginated catalog endpoint
type RawListing struct {
	Seq           FlexString `json:"seq"`
	TransportID   FlexString `json:"transportID"`
	NFTID         FlexString `json:"nftID"`
	CharacterName string     `json:"characterName"`
	Class         FlexString `json:"class"`
	Level         FlexInt    `json:"lv"`
	PowerScore    FlexInt    `json:"powerScore"`
	Price         FlexFloat  `json:"price"`
	TradeType     FlexInt    `json:"tradeType"`
	WorldName     string     `json:"worldName"`
	SealedTS      FlexInt    `json:"sealedTS"`
}

// ListPage is the decoded catalog page payload
type ListPage struct {
	Lists      []RawListing `json:"lists"`
	TotalCount int          `json:"totalCount"`
}

// RawCharacter is the character block of the summary endpoint
type RawCharacter struct {
	Name       string     `json:"name"`
	WorldName  string     `json:"worldName"`
	Class      FlexString `json:"class"`
	Level      FlexInt    `json:"level"`
	PowerScore FlexInt    `json:"powerScore"`
}

// RawEquipItem is one equipped item from the summary endpoint
type RawEquipItem struct {
	ItemType string     `json:"itemType"`
	ItemIdx  FlexString `json:"itemIdx"`
	ItemName string     `json:"itemName"`
	ItemPath string     `json:"itemPath"`
	Grade    FlexInt    `json:"grade"`
	Tier     FlexString `json:"tier"`
	Enhance  FlexInt    `json:"enhance"`
}

// Summary is the decoded per-account summary payload
type Summary struct {
	Character RawCharacter            `json:"character"`
	Price     FlexFloat               `json:"price"`
	TradeType FlexInt                 `json:"tradeType"`
	SealedTS  FlexInt                 `json:"sealedTS"`
	EquipItem map[string]RawEquipItem `json:"equipItem"`
}

// RawStat is one stat row from the stats endpoint
type RawStat struct {
	StatName  string     `json:"statName"`
	StatValue FlexString `json:"statValue"`
}

// RawInventoryItem is one inventory row
type RawInventoryItem struct {
	ItemID   FlexString `json:"itemID"`
	ItemName string     `json:"itemName"`
	ItemPath string     `json:"itemPath"`
	Grade    FlexInt    `json:"grade"`
	Tier     FlexString `json:"tier"`
	Enhance  FlexInt    `json:"enhance"`
	Stack    FlexInt    `json:"stack"`
	PetName  string     `json:"petName"`
}

// RawCodexEntry is one codex category
type RawCodexEntry struct {
	Completed FlexInt `json:"completed"`
}

// RawSpiritItem is one spirit from either the equipped or inventory section
type RawSpiritItem struct {
	PetName   string  `json:"petName"`
	Grade     FlexInt `json:"grade"`
	Transcend FlexInt `json:"transcend"`
	IconPath  string  `json:"iconPath"`
}

// SpiritData groups equipped and stored spirits
type SpiritData struct {
	Equip []RawSpiritItem `json:"equip"`
	Inven []RawSpiritItem `json:"inven"`
}

// RawForce is one inner-force line from the training endpoint
type RawForce struct {
	ForceIdx   FlexString `json:"forceIdx"`
	ForceLevel FlexInt    `json:"forceLevel"`
	ForceName  string     `json:"forceName"`
}

// TrainingData is the decoded training payload. The upstream mixes named
// fields with numerically keyed force objects in one flat object, so it
// needs a custom decoder.
type TrainingData struct {
	ConstitutionLevel int
	CollectLevel      int
	Forces            []RawForce
}

// UnmarshalJSON implements json.Unmarshaler
func (t *TrainingData) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	if v, ok := raw["consitutionLevel"]; ok { // upstream's own spelling
		var n FlexInt
		_ = n.UnmarshalJSON(v)
		t.ConstitutionLevel = n.Int()
	}
	if v, ok := raw["collectLevel"]; ok {
		var n FlexInt
		_ = n.UnmarshalJSON(v)
		t.CollectLevel = n.Int()
	}

	// Force slots are keyed "0".."5"
	for i := 0; i < 6; i++ {
		v, ok := raw[strconv.Itoa(i)]
		if !ok {
			continue
		}
		var force RawForce
		if err := json.Unmarshal(v, &force); err != nil {
			continue
		}
		t.Forces = append(t.Forces, force)
	}

	return nil
}

// RawSkill is one skill row from the skills endpoint
type RawSkill struct {
	SkillName  string  `json:"skillName"`
	SkillLevel FlexInt `json:"skillLevel"`
}

// RawBuilding is one building from the building endpoint
type RawBuilding struct {
	BuildingLevel FlexInt `json:"buildingLevel"`
}
