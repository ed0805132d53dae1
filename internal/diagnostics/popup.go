package diagnostics

// popupMachine implements the missing-descriptor popup lifecycle. It is
// hidden at init; visible and suppressed are never simultaneously true.
type popupMachine struct {
	visible    bool
	suppressed bool
	// signature is the missing-key union from the latest recompute.
	signature map[string]struct{}
	// dismissedSignature is the baseline recorded when the user dismissed
	// the popup. A new missing key outside this baseline re-arms the popup.
	dismissedSignature map[string]struct{}
}

// observe feeds the machine the union of missing descriptor keys from one
// recompute and applies the resulting transition.
func (m *popupMachine) observe(missing map[string]struct{}) {
	m.signature = missing

	if len(missing) == 0 {
		m.visible = false
		m.suppressed = false
		m.dismissedSignature = nil
		return
	}

	if m.suppressed {
		for key := range missing {
			if _, known := m.dismissedSignature[key]; !known {
				m.visible = true
				m.suppressed = false
				m.dismissedSignature = nil
				return
			}
		}
		return
	}
	m.visible = true
}

// dismiss moves a visible popup to suppressed, recording the current
// signature as the dismissed baseline. Dismissing a hidden popup is a no-op.
func (m *popupMachine) dismiss() {
	if !m.visible {
		return
	}
	baseline := make(map[string]struct{}, len(m.signature))
	for key := range m.signature {
		baseline[key] = struct{}{}
	}
	m.visible = false
	m.suppressed = true
	m.dismissedSignature = baseline
}

func (m *popupMachine) reset() {
	m.visible = false
	m.suppressed = false
	m.signature = nil
	m.dismissedSignature = nil
}
