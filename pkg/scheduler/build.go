package scheduler

// Equal reports whether j and other denote the same chroot build job.
func (j *ChrootJob) Equal(other *ChrootJob) bool {
	return j.ActionID == other.ActionID &&
		j.Arch == other.Arch &&
		j.PackageName == other.PackageName
}
