// Package imxsrc drives the i.MX System Reset Controller and the
// neighbouring blocks needed to release and gate secondary Cortex-A cores.
package imxsrc

const (
	// --- SRC (System Reset Controller) ---
	regSCR    = 0x000 // i.MX6 shared core enable/reset control
	regA7RCR0 = 0x004 // i.MX7 A7 reset control 0
	regA7RCR1 = 0x008 // i.MX7 A7 reset control 1 (core enables)
	regGPR1   = 0x020 // GPR1..: per core {boot address, argument}

	gprStride   = 8 // bytes per core pair
	gprArgument = 4 // argument (liveness marker) follows boot address

	// SCR bit positions for core 1; core n uses pos + (n-1).
	scrCore1Rst    = 14
	scrCore1Enable = 22

	// A7RCR1 bit position for core 1.
	a7rcr1Core1Enable = 1

	// --- GPCv2 (General Power Controller) ---
	regGPCPGCC1      = 0x840 // PGC control for A7 core 1
	regGPCSWPupReq   = 0x0F0 // CPU_PGC_SW_PUP_REQ
	pgcPCR           = 0     // power control request bit in PGC_Cn
	swPupCore1A7     = 1     // CORE1_A7 bit in SW_PUP_REQ
	gpcPupTimeoutUs  = 1000
	gpcPupPollBudget = 1 << 20

	// --- IOMUXC GPR ---
	regIOMUXCGPR5 = 0x14 // bit n: core n in WFI

	// MarkerParked is written by a core to its argument slot once it is
	// safe to power-gate.
	MarkerParked = 0xFFFFFFFF

	// MaxCores bounds the per-core register slots this driver addresses.
	MaxCores = 4
)

func bootAddrReg(core int) uint32 { return regGPR1 + uint32(core)*gprStride }
func markerReg(core int) uint32   { return bootAddrReg(core) + gprArgument }
