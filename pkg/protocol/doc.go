/*
Package protocol implements the line-oriented control protocol spoken between
the driver and its worker processes.

Every message is one line of space separated tokens. Free text (error
messages, disk names with spaces) is carried as a Go double-quoted string.
Per-job messages carry a handle of the form WW-SSSSS (worker index, serial).

Driver to dumper:

	FILE-DUMP <handle> <host> <disk> <level> <path> <bytes>
	PORT-DUMP <handle> <host> <disk> <level> <port>
	CONTINUE  <handle> <path> <bytes>
	ABORT     <handle>
	QUIT

Dumper to driver:

	DONE            <handle> <bytes> <seconds>
	FAILED          <handle> "<msg>"
	TRY-AGAIN       <handle> "<msg>"
	FATAL-TRY-AGAIN <handle> "<msg>"
	NO-ROOM         <handle> <bytes-written>
	ABORT-FINISHED  <handle>
	FAIL-OUTPUT     <handle> "<msg>"
	BAD-COMMAND     "<msg>"

Driver to taper:

	START-TAPER <run-id>
	FILE-WRITE  <handle> <path> <host> <disk> <level>
	PORT-WRITE  <handle> <host> <disk> <level>
	QUIT

Taper to driver:

	TAPER-OK
	TAPER-OK   <handle> <label> <filenum>
	PORT       <handle> <port>
	TAPE-ERROR [<handle>] "<msg>"

Commands are typed values implementing Command. Replies are parsed at the
boundary into a Reply whose Token is one of the constants above; anything
that does not parse becomes Bogus, so raw strings never reach the scheduler.
*/
package protocol
