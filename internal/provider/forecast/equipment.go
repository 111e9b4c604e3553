package forecast

import "strings"

// Equipment categories the forecast service accepts.
const (
	EquipmentVan      = "VAN"
	EquipmentFlatbed  = "FLATBED"
	EquipmentReefer   = "REEFER"
	EquipmentStepdeck = "STEPDECK"
)

var equipmentRules = []struct {
	needles  []string
	category string
}{
	{[]string{"VAN", "DRY"}, EquipmentVan},
	{[]string{"FLAT"}, EquipmentFlatbed},
	{[]string{"REEFER", "REFRIGERATED"}, EquipmentReefer},
	{[]string{"STEP"}, EquipmentStepdeck},
}

// EquipmentCategory maps a free-form equipment description to a category.
// Rules are checked in order, so "Refrigerated Van" is a VAN. Unknown or
// empty hints default to VAN.
func EquipmentCategory(hint string) string {
	h := strings.ToUpper(hint)
	for _, rule := range equipmentRules {
		for _, n := range rule.needles {
			if strings.Contains(h, n) {
				return rule.category
			}
		}
	}
	return EquipmentVan
}
