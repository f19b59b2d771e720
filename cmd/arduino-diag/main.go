package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/thatsimonsguy/greenhouse-controller/internal/discovery"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
)

func main() {
	var portPath string
	var baud int
	var wait time.Duration
	flag.StringVar(&portPath, "port", "", "Port to probe (default: first candidate)")
	flag.IntVar(&baud, "baud", 9600, "Baud rate")
	flag.DurationVar(&wait, "wait", 10*time.Second, "How long to wait for a line")
	flag.Parse()

	fmt.Println("Arduino diagnostic")
	fmt.Println("==================")

	ok := run(portPath, baud, wait)
	printChecklist()
	if !ok {
		os.Exit(1)
	}
}

func run(portPath string, baud int, wait time.Duration) bool {
	fmt.Println("\n1. Available ports:")
	ports, err := discovery.ListPorts()
	if err != nil {
		fmt.Printf("   Failed to enumerate ports: %v\n", err)
		return false
	}
	if len(ports) == 0 {
		fmt.Println("   No serial ports found")
		return false
	}
	for i, p := range ports {
		fmt.Printf("   %d. %s\n", i+1, p.Path)
		fmt.Printf("      Manufacturer: %s\n", orUnknown(p.Manufacturer))
		fmt.Printf("      Name:         %s\n", orUnknown(p.FriendlyName))
		fmt.Printf("      Serial:       %s\n", orUnknown(p.SerialNumber))
		fmt.Printf("      Vendor ID:    %s\n", orUnknown(p.VID))
		fmt.Printf("      Product ID:   %s\n", orUnknown(p.PID))
	}

	fmt.Println("\n2. Ports that look like an Arduino:")
	var candidates []discovery.Port
	for _, p := range ports {
		if discovery.IsCandidate(p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		fmt.Println("   None found. Possible causes:")
		fmt.Println("      - board not plugged in")
		fmt.Println("      - CH340/FTDI driver missing")
		fmt.Println("      - port held by another program")
	}
	for i, p := range candidates {
		fmt.Printf("   %d. %s - %s\n", i+1, p.Path, orUnknown(firstNonEmpty(p.FriendlyName, p.Manufacturer)))
	}

	if portPath == "" {
		if len(candidates) == 0 {
			return false
		}
		portPath = candidates[0].Path
	}

	fmt.Printf("\n3. Testing %s at %d baud:\n", portPath, baud)
	port, err := serial.Open(portPath, &serial.Mode{BaudRate: baud})
	if err != nil {
		fmt.Printf("   Failed to open: %v\n", err)
		return false
	}
	defer port.Close()
	fmt.Println("   Port opened")

	fmt.Printf("   Waiting up to %s for data...\n", wait)
	lines := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lines <- line
				return
			}
		}
	}()

	select {
	case line := <-lines:
		fmt.Printf("   Received: %q\n", line)
		reading, err := protocol.Decode(line)
		if err != nil {
			fmt.Printf("   Could not decode line: %v\n", err)
			return false
		}
		fmt.Printf("   Decoded (%s): soil=%.1f light=%.1f water=%.1f pump=%t emergency=%t\n",
			reading.Format, reading.SoilMoisture, reading.LightLevel, reading.WaterLevel, reading.PumpStatus, reading.EmergencyMode)
		return true
	case <-time.After(wait):
		fmt.Println("   No data received. Possible causes:")
		fmt.Println("      - sketch not uploaded or not printing")
		fmt.Println("      - wrong baud rate")
		fmt.Println("      - unexpected line format")
		return false
	}
}

func printChecklist() {
	fmt.Println("\nCommon problems:")
	fmt.Println("1. Board not physically connected")
	fmt.Println("2. CH340/FTDI driver not installed")
	fmt.Println("3. Port held by the Arduino IDE or serial monitor")
	fmt.Println("4. Sketch missing or printing the wrong format")
	fmt.Println("5. Baud rate mismatch (expected 9600)")
	fmt.Println("6. Lines missing SOIL, LIGHT, WATER or PUMP fields")
	fmt.Println("7. User lacks permission on the port (add to the dialout group on Linux)")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
