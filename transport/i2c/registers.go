// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package i2c

// FM11NT08x 7-bit I2C address.
const chipAddr = 0x57

// Register addresses. Registers live above 0xFFE0; everything below is
// eeprom.
const (
	regUserCfg0     uint16 = 0xFFE0
	regUserCfg1     uint16 = 0xFFE1
	regUserCfg2     uint16 = 0xFFE2
	regResetSilence uint16 = 0xFFE6
	regStatus       uint16 = 0xFFE7
	regVoutEnCfg    uint16 = 0xFFE9
	regVoutResCfg   uint16 = 0xFFEA
	regFifoAccess   uint16 = 0xFFF0
	regFifoClear    uint16 = 0xFFF1
	regFifoWordCnt  uint16 = 0xFFF2
	regNfcStatus    uint16 = 0xFFF3
	regNfcTxen      uint16 = 0xFFF4
	regNfcCfg       uint16 = 0xFFF5
	regNfcRats      uint16 = 0xFFF6
	regMainIrq      uint16 = 0xFFF7
	regFifoIrq      uint16 = 0xFFF8
	regAuxIrq       uint16 = 0xFFF9
	regMainIrqMask  uint16 = 0xFFFA
	regFifoIrqMask  uint16 = 0xFFFB
	regAuxIrqMask   uint16 = 0xFFFC
)

// Eeprom addresses used by Configure.
const (
	eepromSerial     uint16 = 0x0000
	eepromUserCfg    uint16 = 0x0390
	eepromNfcConfig  uint16 = 0x03B0
	eepromUserCfgDup uint16 = 0x03B8
	eepromCRC8       uint16 = 0x03BB
	eepromATQA       uint16 = 0x03BC

	// serialLen covers UID0-2, BCC0, UID3-6 and BCC1.
	serialLen = 9
)

// MAIN_IRQ bits.
const (
	mainIrqPower   byte = 0x80
	mainIrqActive  byte = 0x40
	mainIrqRxStart byte = 0x20
	mainIrqRxDone  byte = 0x10
	mainIrqTxDone  byte = 0x08
	mainIrqFifo    byte = 0x02
	mainIrqAux     byte = 0x01
)

// FIFO_IRQ bits.
const (
	fifoIrqWaterLevel byte = 0x08
	fifoIrqOverflow   byte = 0x04
	fifoIrqFull       byte = 0x02
	fifoIrqEmpty      byte = 0x01
)

// NFC_STATUS bits.
const (
	nfcStatusTx byte = 0x01
	nfcStatusRx byte = 0x02
)

// NFC_TXEN commands.
const (
	txenSendBack        byte = 0x55
	txenSwitchToReceive byte = 0x88
)

const (
	resetSilenceValue byte = 0xCC
	fifoWordCntMask   byte = 0x3F

	// fifoDepth is the chip FIFO size; the water level fires at 8 bytes.
	fifoDepth     = 32
	fifoChunk     = 24
	fifoWaterMark = 8

	// Interrupt masks: FIFO water level and RX start/done stay unmasked.
	defaultFifoIrqMask byte = 0xF3
	defaultMainIrqMask byte = 0x44

	defaultFrameSize = 128
)

// fsdiToFrameSize maps the FSDI nibble of the RATS parameter byte to the
// reader's maximum frame size.
func fsdiToFrameSize(fsdi byte) int {
	switch fsdi {
	case 0:
		return 16
	case 1:
		return 24
	case 2:
		return 32
	case 3:
		return 40
	case 4:
		return 48
	case 5:
		return 64
	case 6:
		return 96
	case 7:
		return 128
	default:
		return 256
	}
}

func addrBytes(reg uint16) []byte {
	return []byte{byte(reg >> 8), byte(reg)}
}

// crc8 is the eeprom header checksum: polynomial 0x07, initial value 0,
// MSB first.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for range 8 {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
