package session

// Telnet command bytes (RFC 854).
const (
	cmdSE   byte = 240
	cmdSB   byte = 250
	cmdWILL byte = 251
	cmdWONT byte = 252
	cmdDO   byte = 253
	cmdDONT byte = 254
	cmdIAC  byte = 255
)

type iacState int

const (
	stateData iacState = iota
	stateIAC
	stateOption // after WILL/WONT/DO/DONT, waiting for the option byte
	stateSub    // inside SB ... IAC SE
	stateSubIAC
)

// iacFilter strips telnet commands from the data stream and refuses every option.
// It keeps state across reads so commands split over packets are handled.
type iacFilter struct {
	state iacState
	verb  byte
}

// feed returns the plain data contained in p and the negotiation replies to send back.
func (f *iacFilter) feed(p []byte) (data, reply []byte) {
	data = make([]byte, 0, len(p))

	for _, b := range p {
		switch f.state {
		case stateData:
			if b == cmdIAC {
				f.state = stateIAC
				continue
			}
			data = append(data, b)

		case stateIAC:
			switch b {
			case cmdIAC:
				data = append(data, cmdIAC)
				f.state = stateData
			case cmdWILL, cmdWONT, cmdDO, cmdDONT:
				f.verb = b
				f.state = stateOption
			case cmdSB:
				f.state = stateSub
			default:
				// NOP, GA and friends carry no option byte.
				f.state = stateData
			}

		case stateOption:
			switch f.verb {
			case cmdDO:
				reply = append(reply, cmdIAC, cmdWONT, b)
			case cmdWILL:
				reply = append(reply, cmdIAC, cmdDONT, b)
			}
			f.state = stateData

		case stateSub:
			if b == cmdIAC {
				f.state = stateSubIAC
			}

		case stateSubIAC:
			if b == cmdSE {
				f.state = stateData
			} else {
				f.state = stateSub
			}
		}
	}

	return data, reply
}

// escapeIAC doubles literal 0xFF bytes in outgoing data.
func escapeIAC(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if b == cmdIAC {
			out = append(out, cmdIAC)
		}
		out = append(out, b)
	}
	return out
}
