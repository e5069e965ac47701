package device

import (
	"errors"
	"fmt"

	"github.com/google/gopacket/pcap"
	"github.com/manifoldco/promptui"
)

var (
	ErrEnumeration      = errors.New("failed to enumerate capture devices")
	ErrInvalidSelection = errors.New("invalid device selection")
)

// Device is one capture-capable interface.
type Device struct {
	Name        string
	Description string
}

// Label renders the device for selection UIs.
func (d Device) Label() string {
	desc := d.Description
	if desc == "" {
		desc = "No description"
	}
	return fmt.Sprintf("%s - (%s)", desc, d.Name)
}

// Lister enumerates devices. List is the pcap-backed implementation.
type Lister func() ([]Device, error)

// List returns every interface pcap can capture from, in pcap order.
func List() ([]Device, error) {
	ifaces, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}
	devices := make([]Device, 0, len(ifaces))
	for _, iface := range ifaces {
		devices = append(devices, Device{Name: iface.Name, Description: iface.Description})
	}
	return devices, nil
}

func Labels(devices []Device) []string {
	labels := make([]string, len(devices))
	for i, d := range devices {
		labels[i] = d.Label()
	}
	return labels
}

// Find validates a device name against the catalog.
func Find(devices []Device, name string) (Device, error) {
	if name == "" {
		return Device{}, fmt.Errorf("%w: empty device name", ErrInvalidSelection)
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %q is not a capture device", ErrInvalidSelection, name)
}

// Prompter asks the operator to pick one of labels and returns its index.
type Prompter interface {
	Pick(label string, items []string) (int, error)
}

// PromptUI is the interactive terminal prompter.
type PromptUI struct{}

func (PromptUI) Pick(label string, items []string) (int, error) {
	prompt := promptui.Select{
		Label: label,
		Items: items,
		Size:  10,
	}
	index, _, err := prompt.Run()
	return index, err
}

// Select asks the operator to choose a device.
func Select(devices []Device, p Prompter) (Device, error) {
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("%w: no capture devices available", ErrInvalidSelection)
	}
	index, err := p.Pick("Select a network device to capture from", Labels(devices))
	if err != nil {
		return Device{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	if index < 0 || index >= len(devices) {
		return Device{}, fmt.Errorf("%w: index %d out of range", ErrInvalidSelection, index)
	}
	if devices[index].Name == "" {
		return Device{}, fmt.Errorf("%w: empty device name", ErrInvalidSelection)
	}
	return devices[index], nil
}
