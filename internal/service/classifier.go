// Package service implements the detail aggregation and catalog
// orchestration pipeline.
package service

import (
	"sort"
	"strings"

	"github.com/market-scanner/internal/client"
	"github.com/market-scanner/internal/types"
)

// Classification of upstream items is a pure function over item metadata:
// the fourth digit of the item id marks marketplace tradability, a name
// prefix list excludes consumables and currency-like items, and a short
// allow-list reinstates known exceptions. Malformed entries are skipped,
// never fatal.

// blockedCharacterNames filters catalog rows whose display name is on the
// operator block-list
var blockedCharacterNames = map[string]struct{}{
	"DeLtaシ":    {},
	"快乐丶小 K": {},
}

// IsBlockedName reports whether a character name is on the block-list
func IsBlockedName(name string) bool {
	_, blocked := blockedCharacterNames[name]
	return blocked
}

// equipSlotByItemType maps upstream equipment type codes to slot labels.
// Unknown codes are not equipment we track.
var equipSlotByItemType = map[string]string{
	"2_1": "Weapon", "2_2": "Weapon", "2_3": "Weapon", "2_4": "Weapon",
	"2_5": "Weapon", "2_6": "Weapon", "2_7": "Weapon",
	"20_1": "Secondary Weapon",
	"3_1":  "Torso", "3_2": "Legs", "3_3": "Gloves", "3_4": "Boots",
	"4_1": "Necklace", "4_2": "Bracelet", "4_3": "Ring", "4_4": "Earrings",
}

// miningBuildingID is the upstream building id for the mine
const miningBuildingID = "3000000"

// excludedNamePrefixes lists item-name prefixes that are never tradable
// listings (consumables, currencies, crafting inputs). Names follow the
// upstream catalog language.
var excludedNamePrefixes = []string{
	"Óleo de Flor", "Pedaço de", "Livro de", "Marca de", "Cristal", "Bastão d",
	"Token de", "Token do", "Panax de", "Grande Pílula", "Pequena Pílula",
	"Esfera da", "Flor de Romã", "Estátua de Dragão", "Erva do Espírito",
	"Selo de Dominação", "Cetro Majestoso", "Fruta Centenária", "Óleo Sagrado",
	"Yobi", "Vela Aromática", "Pedaço do Dragão", "Sumacheon", "Crachá de",
	"Baleia", "Seda dos", "Japamala", "Anel de Feitiço de Yullus", "Grilheta de",
	"Talismã do", "Crachá de Invocação", "P.E de E.T", "Crachá", "Pedra do Equilíbrio",
	"Pedra Sanguissedenta", "Pedra da Lua Amarela", "Pedra Lúcida Azul",
	"Minério de Chifre", "Pó de espaço", "Biyoho", "Espada de Pedras",
	"Pinheiro Resistente", "Gema de Espírito", "Tintura Vermelha", "Token Infundido",
	"Pílula de Gelo", "Pedra do Trovão", "Masse de Enxofre", "Escama de Rainha",
	"Grande Sábio Símio", "Pedra Mágica da Insanidade", "Pergaminho de",
}

// ticketNames are the special-item bucket for raid and dungeon tickets
var ticketNames = map[string]struct{}{
	"Bilhete de Pico Secreto":                {},
	"Bilhete de Praça Mágica":                {},
	"Bilhete de Raide Infernal":              {},
	"Bilhete de Raide de Boss":               {},
	"Bilhete de Raide":                       {},
	"Bilhete do Caminho do Treino Intenso":   {},
}

// crystalNames are the special-item bucket for soul crystals
var crystalNames = map[string]struct{}{
	"Cristal da Alma Esvoaçante Épico":    {},
	"Cristal da Alma Esvoaçante Raro":     {},
	"Cristal da Alma Esvoaçante Incomum":  {},
	"Cristal de Quintessência Épico":      {},
	"Cristal de Quintessência Raro":       {},
	"Cristal de Quintessência Incomum":    {},
	"Cristal da Alma Celestial Épico":     {},
	"Cristal da Alma Celestial Raro":      {},
	"Cristal da Alma Celestial Incomum":   {},
	"Cristal da Alma Sanguinária Épico":   {},
	"Cristal da Alma Sanguinária Raro":    {},
	"Cristal da Alma Sanguinária Incomum": {},
}

// fragmentNames are the special-item bucket for upgrade fragments
var fragmentNames = map[string]struct{}{
	"Fragmento Etéreo Épico":       {},
	"Fragmento Etéreo Raro":        {},
	"Fragmento Etéreo Incomum":     {},
	"Fragmento Lunar Épico":        {},
	"Fragmento Lunar Raro":         {},
	"Fragmento Lunar Incomum":      {},
	"Fragmento Solar Épico":        {},
	"Fragmento Solar Raro":         {},
	"Fragmento Solar Incomum":      {},
	"Fragmento Sem Limites Épico":  {},
	"Fragmento Sem Limites Raro":   {},
	"Fragmento Sem Limites Incomum": {},
}

// rarityWeight orders the crystal and fragment buckets by rarity suffix
var rarityWeight = map[string]int{
	"Épico":   3,
	"Raro":    2,
	"Incomum": 1,
}

// TradableItemID reports whether the item id's marketplace flag digit is set
func TradableItemID(itemID string) bool {
	return len(itemID) >= 4 && itemID[3] == '1'
}

// isAllowedException reinstates items that the prefix rules would exclude
func isAllowedException(name string) bool {
	if strings.HasPrefix(name, "Fragmento Iluminante") {
		return true
	}
	if strings.HasPrefix(name, "Fragmento de Tesouro Lendário") {
		return true
	}
	if strings.Contains(name, "Pedra Mágica") && !strings.Contains(name, "Pedra Mágica da Insanidade") {
		return true
	}
	if strings.Contains(name, "Pedra de Aprimoramento") {
		return true
	}
	if strings.Contains(name, "Colar de Ragnos Raro") {
		return true
	}
	return name == "Pergaminho de Encantamento"
}

// isExcludedName applies the name-based exclusion rules
func isExcludedName(name string) bool {
	if strings.Contains(name, "Bilhete") {
		return true
	}
	if isAllowedException(name) {
		return false
	}
	for _, prefix := range excludedNamePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	if strings.HasPrefix(name, "Pedra de") && !strings.Contains(name, "Pedra Mágica") {
		return true
	}
	if strings.HasPrefix(name, "Fragmento") && !strings.Contains(name, "Fragmento Iluminante") {
		return true
	}
	return false
}

// RomanToInt converts an upstream tier numeral ("I".."X" or a plain digit)
// to an integer. Unparseable input defaults to tier 1.
func RomanToInt(roman string) int {
	roman = strings.ToUpper(strings.TrimSpace(roman))
	if roman == "" {
		return 1
	}

	if v, isDigit := parseDigits(roman); isDigit {
		if v < 1 {
			return 1
		}
		return v
	}

	values := map[rune]int{'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000}
	total := 0
	prev := 0
	for i := len(roman) - 1; i >= 0; i-- {
		v := values[rune(roman[i])]
		if v < prev {
			total -= v
		} else {
			total += v
		}
		prev = v
	}

	if total <= 0 {
		return 1
	}
	return total
}

func parseDigits(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// InventoryClassification is the result of classifying a full inventory
type InventoryClassification struct {
	// All carries every well-formed item with its tradability flag
	All []types.Item
	// Tradable carries only the items that pass the tradability rules
	Tradable []types.Item
	// Special carries the ticket/crystal/fragment buckets
	Special types.SpecialItems
}

// ClassifyInventory classifies every inventory entry. The function is total:
// malformed entries (no name) are skipped and everything else is assigned a
// tradability flag and, where applicable, a special bucket.
func ClassifyInventory(items []client.RawInventoryItem) InventoryClassification {
	var result InventoryClassification

	for _, raw := range items {
		if raw.ItemName == "" {
			continue
		}

		count := raw.Stack.Int()
		if count <= 0 {
			count = 1
		}

		item := types.Item{
			Name:    raw.ItemName,
			Grade:   raw.Grade.Int(),
			Tier:    RomanToInt(raw.Tier.String()),
			Enhance: raw.Enhance.Int(),
			Count:   count,
			Image:   raw.ItemPath,
		}

		// Pets appear in the inventory payload but belong to the spirit
		// facet; they never count as tradable goods.
		tradable := raw.PetName == "" &&
			!isExcludedName(raw.ItemName) &&
			TradableItemID(raw.ItemID.String())

		item.Tradable = tradable
		result.All = append(result.All, item)
		if tradable {
			result.Tradable = append(result.Tradable, item)
		}

		switch {
		case inSet(ticketNames, raw.ItemName):
			result.Special.Tickets = append(result.Special.Tickets, item)
		case inSet(crystalNames, raw.ItemName):
			result.Special.Crystals = append(result.Special.Crystals, item)
		case inSet(fragmentNames, raw.ItemName):
			result.Special.Fragments = append(result.Special.Fragments, item)
		}
	}

	sortItems(result.All)
	sortItems(result.Tradable)

	sort.Slice(result.Special.Tickets, func(i, j int) bool {
		return result.Special.Tickets[i].Name < result.Special.Tickets[j].Name
	})
	sortByRarity(result.Special.Crystals)
	sortByRarity(result.Special.Fragments)

	return result
}

// sortItems orders items by grade, then tier, then enhancement, descending
func sortItems(items []types.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Grade != items[j].Grade {
			return items[i].Grade > items[j].Grade
		}
		if items[i].Tier != items[j].Tier {
			return items[i].Tier > items[j].Tier
		}
		return items[i].Enhance > items[j].Enhance
	})
}

// sortByRarity orders a special bucket by rarity suffix weight, then name
func sortByRarity(items []types.Item) {
	sort.Slice(items, func(i, j int) bool {
		wi := rarityWeight[lastWord(items[i].Name)]
		wj := rarityWeight[lastWord(items[j].Name)]
		if wi != wj {
			return wi > wj
		}
		return items[i].Name < items[j].Name
	})
}

func lastWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func inSet(set map[string]struct{}, name string) bool {
	_, ok := set[name]
	return ok
}

// ClassifyEquipment extracts the tracked equipment slots from the summary
// payload. Only rare and above (grade 3-5) equipment is kept.
func ClassifyEquipment(equipItem map[string]client.RawEquipItem) []types.EquipmentItem {
	var equipment []types.EquipmentItem

	for _, raw := range equipItem {
		slot, tracked := equipSlotByItemType[raw.ItemType]
		if !tracked {
			continue
		}

		grade := raw.Grade.Int()
		if grade < 3 || grade > 5 {
			continue
		}

		equipment = append(equipment, types.EquipmentItem{
			Slot:     slot,
			Name:     raw.ItemName,
			Grade:    grade,
			Tier:     RomanToInt(raw.Tier.String()),
			Enhance:  raw.Enhance.Int(),
			Image:    raw.ItemPath,
			Tradable: TradableItemID(raw.ItemIdx.String()),
		})
	}

	sort.Slice(equipment, func(i, j int) bool {
		if equipment[i].Grade != equipment[j].Grade {
			return equipment[i].Grade > equipment[j].Grade
		}
		return equipment[i].Slot < equipment[j].Slot
	})

	return equipment
}

// ClassifySpirits folds equipped and stored spirits into a graded list and
// per-grade counts. Only epic and above (grade 4+) spirits are kept.
func ClassifySpirits(spirits *client.SpiritData) ([]types.Item, types.SpiritSummary) {
	var list []types.Item
	var summary types.SpiritSummary

	if spirits == nil {
		return list, summary
	}

	for _, section := range [][]client.RawSpiritItem{spirits.Equip, spirits.Inven} {
		for _, raw := range section {
			grade := raw.Grade.Int()
			if raw.PetName == "" || raw.IconPath == "" || grade < 4 {
				continue
			}

			switch grade {
			case 4:
				summary.Epic++
			case 5:
				summary.Legendary++
			case 6:
				summary.Grade6++
			}

			tier := raw.Transcend.Int()
			if tier <= 0 {
				tier = 1
			}

			list = append(list, types.Item{
				Name:  raw.PetName,
				Grade: grade,
				Tier:  tier,
				Count: 1,
				Image: raw.IconPath,
			})
		}
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Grade != list[j].Grade {
			return list[i].Grade > list[j].Grade
		}
		return list[i].Tier > list[j].Tier
	})

	return list, summary
}

// ClassifySkills grades skills by level: 10+ counts as legendary, 1+ as epic
func ClassifySkills(skills []client.RawSkill) ([]types.Item, types.SkillSummary) {
	var list []types.Item
	var summary types.SkillSummary

	for _, raw := range skills {
		level := raw.SkillLevel.Int()

		grade := 1
		switch {
		case level >= 10:
			grade = 5
			summary.Legendary++
		case level >= 1:
			grade = 4
			summary.Epic++
		}

		list = append(list, types.Item{
			Name:    raw.SkillName,
			Grade:   grade,
			Tier:    1,
			Enhance: level,
			Count:   1,
		})
	}

	return list, summary
}
