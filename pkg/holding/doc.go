/*
Package holding rations holding-disk space among backup jobs.

A holding disk is a local staging directory where dump images are buffered
before the taper writes them to tape. The Pool tracks, per disk, the bytes
reserved by each job and guarantees that the sum of reservations never
exceeds the configured capacity.

A job's image may span several chunks on several disks: when a dumper reports
NO-ROOM the scheduler shrinks the reservation to what was actually written and
asks the pool for a further chunk elsewhere.

	pool.FindSpace(80 << 20)        // disk with the most free bytes that fits
	pool.Assign(job, disk, 80 << 20) // reserve and bind job.DestPath
	pool.Adjust(job, 20 << 20)       // true size known after DONE
	pool.Release(job)                // image is on tape, free and delete

Files live under <holding-path>/<run-id>/ as laid out by LocalLayout.
*/
package holding
