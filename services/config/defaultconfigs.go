package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board name (same value placed in ctx under CtxBoardKey)
// Val: raw JSON bytes for that board
// -----------------------------------------------------------------------------

const cfgIMX6QSabreSD = `{
  "board": "imx6q-sabresd",
  "soc": "imx6q",
  "cores": 4,
  "variant": "scr",
  "src_base": "0x020D8000",
  "iomuxc_base": "0x020E0000",
  "anatop_base": "0x020C8000",
  "wdog_base": "0x020BC000",
  "load_addr": "0x4E000000"
}`

const cfgIMX6ULEVK = `{
  "board": "imx6ul-evk",
  "soc": "imx6ul",
  "cores": 1,
  "variant": "scr",
  "src_base": "0x020D8000",
  "iomuxc_base": "0x020E4000",
  "anatop_base": "0x020C8000",
  "wdog_base": "0x020BC000",
  "load_addr": "0x9E000000",
  "wdog_external_reset": true
}`

const cfgIMX7DSabreSD = `{
  "board": "imx7d-sabresd",
  "soc": "imx7d",
  "cores": 2,
  "variant": "a7rcr",
  "src_base": "0x30390000",
  "gpc_base": "0x303A0000",
  "anatop_base": "0x30360000",
  "wdog_base": "0x30280000",
  "load_addr": "0xBE000000",
  "park_timeout_ms": 200
}`

const cfgIMX8ULPEVK = `{
  "board": "imx8ulp-evk",
  "soc": "imx8ulp",
  "cores": 2,
  "variant": "",
  "mu_base": "0x27020000",
  "mu_rx_timeout_ms": 100
}`

var embeddedConfigs = map[string][]byte{
	"imx6q-sabresd": []byte(cfgIMX6QSabreSD),
	"imx6ul-evk":    []byte(cfgIMX6ULEVK),
	"imx7d-sabresd": []byte(cfgIMX7DSabreSD),
	"imx8ulp-evk":   []byte(cfgIMX8ULPEVK),
}
