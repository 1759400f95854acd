// Package storage writes scraped product artifacts to disk.
//
// Each product gets its own folder under the base directory holding the
// downloaded images, an image_urls.csv index and plain text files for the
// title and description. Every file is written to a temporary name first
// and renamed into place, so a partially written file never shows up under
// its final name.
//
// Usage:
//
//	manager, err := storage.NewManager("downloaded_images")
//	if err != nil {
//	    return err
//	}
//	name := storage.ImageFilename(0, product.Images[0])
//	err = manager.SaveImage(product.ExternalID, name, body)
package storage
