package main

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tuya-cloudcutter/bk7231tools/internal/codec"
	"github.com/tuya-cloudcutter/bk7231tools/internal/kvstorage"
	"github.com/tuya-cloudcutter/bk7231tools/internal/layout"
	"github.com/tuya-cloudcutter/bk7231tools/internal/rbl"
)

// codePartitionCoefficients is the fixed BekenCodeCipher key for every
// code (non-bootloader) partition, shared by every chip this tool
// targets.
const codePartitionCoefficients = "UQ+wk6PL6txZk6F+x63rAw=="

func newDissectDumpCmd() *cobra.Command {
	var (
		file      string
		outputDir string
		extract   bool
		withRBL   bool
	)

	cmd := &cobra.Command{
		Use:   "dissect-dump",
		Short: "Carve RBL containers and the KV store out of a local flash dump",
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "flash dump file to dissect (required)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory to write extracted payloads to")
	cmd.Flags().BoolVarP(&extract, "extract", "e", false, "write carved/decrypted payloads to output-dir")
	cmd.Flags().BoolVar(&withRBL, "rbl", false, "accepted but has no effect: extracted container files hold the payload only, without the RBL header")
	cmd.MarkFlagRequired("file")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if outputDir == "" {
			outputDir = "."
		}
		if extract {
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return err
			}
		}

		image, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading %s: %w", file, err)
		}

		l := layout.OTA1
		found := map[string]bool{}

		fmt.Println("RBL containers:")
		for _, pos := range rbl.FindMagicOffsets(image) {
			container, err := rbl.ParseAt(image, pos, &l)
			if err != nil {
				fmt.Printf("\t0x%x: FAILED TO PARSE - %v\n", pos, err)
				continue
			}
			if container.Payload == nil {
				fmt.Printf("\t0x%x: %s - INVALID PAYLOAD\n", pos, container.Header.Name)
				continue
			}
			fmt.Printf("\t0x%x: %s - [algo=%d, size=0x%x]\n", pos, container.Header.Name, container.Header.Algo, len(container.Payload))
			found[container.Header.Name] = true

			if extract {
				if err := extractContainer(file, outputDir, container); err != nil {
					fmt.Printf("\t\textraction failed: %v\n", err)
				} else {
					fmt.Printf("\t\textracted to %s\n", outputDir)
				}
			}
		}

		for _, part := range l.Partitions {
			if found[part.Name] {
				continue
			}
			fmt.Printf("Missing %s RBL container. Using a scan pattern instead\n", part.Name)
			payload, err := scanPatternFindPayload(image, part)
			if err != nil {
				fmt.Printf("\t%v\n", err)
				continue
			}
			fmt.Printf("\t0x%x: %s - [NO RBL, size=0x%x]\n", part.Start, part.Name, len(payload))
			if extract {
				if err := writePayloadFiles(file, outputDir, part.Name, "pattern_scan", part.Mapped, payload); err != nil {
					fmt.Printf("\t\textraction failed: %v\n", err)
				} else {
					fmt.Printf("\t\textracted to %s\n", outputDir)
				}
			}
		}

		return dissectStorage(image, outputDir, extract)
	}
	return cmd
}

func extractContainer(dumpfile, outputDir string, c rbl.Container) error {
	return writePayloadFiles(dumpfile, outputDir, c.Header.Name, c.Header.Version, findMapped(c.Header.Name), c.Payload)
}

func findMapped(name string) uint32 {
	for _, p := range layout.OTA1.Partitions {
		if p.Name == name {
			return p.Mapped
		}
	}
	return 0
}

func writePayloadFiles(dumpfile, outputDir, name, tag string, mapped uint32, payload []byte) error {
	base := baseName(dumpfile)

	rawPath := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%s.bin", base, name, tag))
	if err := os.WriteFile(rawPath, payload, 0o644); err != nil {
		return err
	}

	decrypted, err := decryptCodePartition(mapped, payload)
	if err != nil {
		return err
	}
	decPath := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%s_decrypted.bin", base, name, tag))
	return os.WriteFile(decPath, decrypted, 0o644)
}

func baseName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// decryptCodePartition reverses the BekenCodeCipher applied to every code
// partition, keyed by the partition's mapped (not flash) address.
func decryptCodePartition(mapped uint32, payload []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(codePartitionCoefficients)
	if err != nil {
		return nil, err
	}
	if len(raw) != 16 {
		return nil, fmt.Errorf("code partition key must decode to 16 bytes, got %d", len(raw))
	}
	coef := make([]uint32, 4)
	for i := range coef {
		coef[i] = binary.BigEndian.Uint32(raw[i*4 : i*4+4])
	}

	cipher := codec.NewCodeCipher(coef[0], coef[1], coef[2], coef[3])
	padded := codec.Pad32(payload)
	return cipher.Decrypt(padded, mapped), nil
}

// scanPatternFindPayload recovers a partition's CRC-16-block-validated
// payload by scanning backward from its padding tail, for use when no RBL
// container could be carved for it.
func scanPatternFindPayload(image []byte, part layout.Partition) ([]byte, error) {
	if int(part.Start+part.Size) > len(image) {
		return nil, fmt.Errorf("partition %s extends past end of dump", part.Name)
	}
	data := image[part.Start : part.Start+part.Size]

	i := len(data)
	for i > 0 && !isFF16(data[i-16:i]) {
		i -= 16
	}
	if i <= 0 {
		return nil, fmt.Errorf("could not find end of partition for %s", part.Name)
	}

	for i > 0 {
		if !isFF16(data[i-16:i]) && i >= 32 && isFF16(data[i-32:i-16]) {
			i = i - 16 + 2
			break
		}
		i -= 16
	}

	payload := data[:i]
	if len(payload) == 0 {
		payload = data
	}

	var out bytes.Buffer
	block := payload
	first := true
	for len(block) >= 32 {
		chunk := block[:32]
		var crcBytes []byte
		if len(block) >= 34 {
			crcBytes = block[32:34]
		}
		if !codec.Block32CRCOK(chunk, crcBytes) {
			if first {
				return nil, fmt.Errorf("first block-level CRC-16 check failed for partition %s", part.Name)
			}
			break
		}
		first = false
		out.Write(chunk)
		if len(block) < 34 {
			break
		}
		block = block[34:]
	}
	return out.Bytes(), nil
}

func isFF16(b []byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return true
}

func dissectStorage(image []byte, outputDir string, extract bool) error {
	store := kvstorage.New(0, 0)
	fmt.Println("Storage partition:")
	pos, err := store.Load(image)
	if err != nil {
		fmt.Printf("\t- not found: %v\n", err)
		return nil
	}
	if err := store.Decrypt(); err != nil {
		fmt.Printf("\t- failed to decrypt: %v\n", err)
		return nil
	}

	keys := store.ReadAllKeys()
	fmt.Printf("\t0x%06x: %d KiB - %d keys\n", pos, (len(store.Data))/1024, len(keys))

	if !extract {
		for name := range keys {
			fmt.Printf("\t- %q\n", name)
		}
		return nil
	}

	blob, err := json.MarshalIndent(keys, "", "\t")
	if err != nil {
		return err
	}
	outPath := filepath.Join(outputDir, "storage.json")
	if err := os.WriteFile(outPath, blob, 0o644); err != nil {
		return err
	}
	fmt.Printf("\t\textracted all keys to %s\n", outPath)
	return nil
}
