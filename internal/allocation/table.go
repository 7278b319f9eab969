package allocation

// Weight is one (symbol, percentage) row of the allocation table.
type Weight struct {
	Symbol     string  `yaml:"symbol" json:"symbol"`
	Percentage float64 `yaml:"percentage" json:"percentage"`
}

// Table maps a risk level to its curated weights.
type Table map[int][]Weight

// DefaultTable goes from broad index exposure at level 1 to concentrated
// high-beta names at level 10. Every level sums to exactly 100.
var DefaultTable = Table{
	1: {
		{"SPYx", 60},
		{"QQQx", 20},
		{"AAPLx", 10},
		{"MSFTx", 10},
	},
	2: {
		{"SPYx", 50},
		{"QQQx", 20},
		{"AAPLx", 10},
		{"MSFTx", 10},
		{"GOOGLx", 10},
	},
	3: {
		{"SPYx", 40},
		{"QQQx", 25},
		{"AAPLx", 15},
		{"MSFTx", 10},
		{"GOOGLx", 10},
	},
	4: {
		{"SPYx", 30},
		{"QQQx", 25},
		{"AAPLx", 15},
		{"MSFTx", 15},
		{"AMZNx", 15},
	},
	5: {
		{"QQQx", 30},
		{"AAPLx", 20},
		{"MSFTx", 20},
		{"NVDAx", 15},
		{"GOOGLx", 15},
	},
	6: {
		{"QQQx", 20},
		{"NVDAx", 20},
		{"AAPLx", 15},
		{"METAx", 15},
		{"AMZNx", 15},
		{"TSLAx", 15},
	},
	7: {
		{"NVDAx", 25},
		{"TSLAx", 20},
		{"METAx", 15},
		{"AMZNx", 15},
		{"PLTRx", 15},
		{"COINx", 10},
	},
	8: {
		{"NVDAx", 25},
		{"TSLAx", 25},
		{"PLTRx", 20},
		{"COINx", 15},
		{"MSTRx", 15},
	},
	9: {
		{"TSLAx", 25},
		{"MSTRx", 20},
		{"COINx", 20},
		{"PLTRx", 20},
		{"HOODx", 15},
	},
	10: {
		{"MSTRx", 30},
		{"COINx", 25},
		{"TSLAx", 20},
		{"HOODx", 15},
		{"CRCLx", 10},
	},
}
