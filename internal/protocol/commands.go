package protocol

import "fmt"

// Ignition subsystem commands.
const (
	CmdProbe          = "AT"
	CmdWakeupIgnition = "CAN WAKEUP IGNITION"
	CmdEventsNotify   = "IGNITION EVENTS NOTIFY"
	CmdKeepAlive      = "IGNITION KEEPALIVE"
)

// CAN subsystem commands.
const (
	CmdWakeupActivity = "CAN WAKEUP ACTIVITY"
	CmdAlignRight     = "CAN USER ALIGN RIGHT"
)

// DefaultChannel is the CAN channel the companion board is wired to.
const DefaultChannel = "CH1"

// IgnitionTimers sets the two ignition timers, in seconds.
func IgnitionTimers(t1, t2 int) string {
	return fmt.Sprintf("IGNITION TIMERS %d %d", t1, t2)
}

// CANOpen opens channel at 500 kbit/s.
func CANOpen(channel string) string {
	return fmt.Sprintf("CAN USER OPEN %s 500K", channel)
}

// CANClose closes channel.
func CANClose(channel string) string {
	return fmt.Sprintf("CAN USER CLOSE %s", channel)
}

// CANIdleDelay sets how long the board waits on an idle bus before sleeping.
func CANIdleDelay(seconds int) string {
	return fmt.Sprintf("CAN IDLE_DELAY %d", seconds)
}

// OBDSetRxID makes channel listen for the engine ECU's responses.
func OBDSetRxID(channel string) string {
	return fmt.Sprintf("OBD SET RXID %s 07E8", channel)
}

// OBDQuery issues a mode/PID query such as "010D".
func OBDQuery(channel, pid string) string {
	return fmt.Sprintf("OBD QUERY %s %s", channel, pid)
}
