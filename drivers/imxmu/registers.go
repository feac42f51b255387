// Package imxmu is the register-level Messaging Unit HAL for i.MX 8ULP
// class parts.
package imxmu

const (
	regTCR = 0x120 // TX control
	regTSR = 0x124 // TX status: TEn = TRn empty
	regRCR = 0x128 // RX control
	regRSR = 0x12C // RX status: RFn = RRn full

	regTR0 = 0x200 // TRn at TR0 + 4n
	regRR0 = 0x280 // RRn at RR0 + 4n

	MaxTxChannels = 8
	MaxRxChannels = 4

	// Per-word wait for TE/RF before reporting busy/no data.
	waitTimeoutUs = 1000
)

func trReg(n int) uint32 { return regTR0 + 4*uint32(n) }
func rrReg(n int) uint32 { return regRR0 + 4*uint32(n) }
