package victron

// merge folds a fresh decode result into the stored record.
//
// Provenance always follows the latest frame. Identity is only overwritten
// with something better than what is stored. Measurements move only when the
// fresh decode passed validation, and then only the values it actually carried.
func merge(existing *DeviceRecord, fresh DeviceRecord) {
	if fresh.Name != "" {
		existing.Name = fresh.Name
	}
	if fresh.Family != FamilyUnknown {
		existing.Family = fresh.Family
	}
	existing.Address = fresh.Address

	existing.RSSI = fresh.RSSI
	existing.LastUpdate = fresh.LastUpdate
	existing.RawData = fresh.RawData
	existing.Records = fresh.Records
	existing.Skipped = fresh.Skipped
	existing.ManufacturerID = fresh.ManufacturerID
	existing.ModelID = fresh.ModelID
	existing.Encrypted = fresh.Encrypted

	if !fresh.DataValid {
		if fresh.ErrorMessage != "" {
			existing.ErrorMessage = fresh.ErrorMessage
		}
		return
	}

	existing.Measurements.MergeFrom(&fresh.Measurements)
	existing.DataValid = true
	existing.ErrorMessage = fresh.ErrorMessage
}
