// Package quser runs the Windows session enumeration tool (quser) against
// remote hosts and parses its columnar output.
//
// quser prints a header line followed by one session per line:
//
//	 USERNAME              SESSIONNAME        ID  STATE   IDLE TIME  LOGON TIME
//	>jdoe                  rdp-tcp#3           2  Active          .  6/1/2024 9:03 AM
//	 asmith                                    3  Disc         1:05  6/1/2024 7:45 AM
//
// Columns are read positionally. The tool reports failures on stderr:
//   - "Access is denied" when the caller lacks rights on the target
//   - "No User exists for *" (exit code 1) when nobody is logged on
//
// Each Probe spawns exactly one child process, bounded by a timeout and
// the caller's context. The child is killed together with its children
// when either fires.
package quser
